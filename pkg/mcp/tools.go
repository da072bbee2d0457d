package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maestro-ai/maestro/pkg/schema"
)

// handleSend submits a user message and returns the final task snapshot.
func (s *MaestroServer) handleSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text is required"), nil
	}
	contextID := req.GetString("context_id", "")

	msg := schema.Message{
		Role:      schema.RoleUser,
		Parts:     []schema.Part{schema.TextPart(text)},
		ContextID: contextID,
	}
	task, sendErr := s.orch.ProcessMessage(ctx, msg, nil)
	if sendErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("send failed: %v", sendErr)), nil
	}
	return marshalResult(task)
}

// handleStatus returns a persisted task snapshot.
func (s *MaestroServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("task_id is required"), nil
	}
	historyLength := req.GetInt("history_length", -1)

	task, statusErr := s.orch.GetTask(ctx, taskID, historyLength)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}
	return marshalResult(task)
}

// handleCancel cancels a non-final task.
func (s *MaestroServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("task_id is required"), nil
	}

	task, cancelErr := s.orch.CancelTask(ctx, taskID)
	if cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}
	return marshalResult(task)
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
