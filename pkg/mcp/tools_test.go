package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/internal/agent"
	"github.com/maestro-ai/maestro/internal/orchestrator"
	"github.com/maestro-ai/maestro/internal/planner"
	"github.com/maestro-ai/maestro/internal/protocol"
	"github.com/maestro-ai/maestro/internal/session"
	"github.com/maestro-ai/maestro/internal/store"
	"github.com/maestro-ai/maestro/internal/streaming"
	"github.com/maestro-ai/maestro/pkg/schema"
)

func newTestMaestro(t *testing.T, p planner.Planner, executors map[string]agent.Executor) *MaestroServer {
	t.Helper()
	s := store.NewMemoryStore()
	sessions := session.NewRegistry(s, time.Hour)
	tasks := protocol.NewTaskManager(s, time.Hour)
	agents := agent.NewRegistry(nil, nil, slog.Default())
	for name, exec := range executors {
		require.NoError(t, agents.Register(name, agent.Card{Name: name}, exec))
	}
	orch := orchestrator.New(sessions, tasks, agents, p, streaming.NewHub(), slog.Default(), orchestrator.Config{})
	return NewMaestroServer(MaestroServerDeps{Orchestrator: orch})
}

func singleNodePlanner() planner.Planner {
	return planner.PlannerFunc(func(ctx context.Context, query string, history []schema.Message) (*planner.PlanResult, error) {
		return &planner.PlanResult{Nodes: []schema.NodeConfig{
			{ID: "work", Agent: "worker", Query: "do it"},
		}}, nil
	})
}

func doneWorker() map[string]agent.Executor {
	return map[string]agent.Executor{
		"worker": agent.ExecutorFunc(func(ctx context.Context, query, contextID, taskID string) (*agent.Result, error) {
			return &agent.Result{Success: true, Content: "finished"}, nil
		}),
	}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func taskFromResult(t *testing.T, result *mcp.CallToolResult) schema.Task {
	t.Helper()
	require.False(t, result.IsError)
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)

	var task schema.Task
	require.NoError(t, json.Unmarshal([]byte(text.Text), &task))
	return task
}

func TestSendTool(t *testing.T) {
	s := newTestMaestro(t, singleNodePlanner(), doneWorker())

	result, err := s.handleSend(context.Background(), buildRequest("maestro.send", map[string]any{
		"text": "please do the thing",
	}))
	require.NoError(t, err)

	task := taskFromResult(t, result)
	assert.Equal(t, schema.TaskStateCompleted, task.Status.State)
	assert.NotEmpty(t, task.ContextID)
}

func TestSendToolMissingText(t *testing.T) {
	s := newTestMaestro(t, singleNodePlanner(), doneWorker())

	result, err := s.handleSend(context.Background(), buildRequest("maestro.send", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSendToolContinuesContext(t *testing.T) {
	calls := 0
	p := planner.PlannerFunc(func(ctx context.Context, query string, history []schema.Message) (*planner.PlanResult, error) {
		calls++
		if calls == 1 {
			return &planner.PlanResult{RequiresInput: true, Question: "which thing?"}, nil
		}
		return &planner.PlanResult{Nodes: []schema.NodeConfig{
			{ID: "work", Agent: "worker", Query: "do it"},
		}}, nil
	})
	s := newTestMaestro(t, p, doneWorker())

	first, err := s.handleSend(context.Background(), buildRequest("maestro.send", map[string]any{
		"text": "do the thing",
	}))
	require.NoError(t, err)
	task := taskFromResult(t, first)
	require.Equal(t, schema.TaskStateInputRequired, task.Status.State)

	second, err := s.handleSend(context.Background(), buildRequest("maestro.send", map[string]any{
		"text":       "the blue one",
		"context_id": task.ContextID,
	}))
	require.NoError(t, err)
	resumed := taskFromResult(t, second)
	assert.Equal(t, task.ID, resumed.ID)
	assert.Equal(t, schema.TaskStateCompleted, resumed.Status.State)
}

func TestStatusTool(t *testing.T) {
	s := newTestMaestro(t, singleNodePlanner(), doneWorker())

	sent, err := s.handleSend(context.Background(), buildRequest("maestro.send", map[string]any{"text": "go"}))
	require.NoError(t, err)
	task := taskFromResult(t, sent)

	status, err := s.handleStatus(context.Background(), buildRequest("maestro.status", map[string]any{
		"task_id": task.ID,
	}))
	require.NoError(t, err)
	got := taskFromResult(t, status)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, schema.TaskStateCompleted, got.Status.State)

	missing, err := s.handleStatus(context.Background(), buildRequest("maestro.status", map[string]any{
		"task_id": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, missing.IsError)
}

func TestCancelTool(t *testing.T) {
	p := planner.PlannerFunc(func(ctx context.Context, query string, history []schema.Message) (*planner.PlanResult, error) {
		return &planner.PlanResult{RequiresInput: true, Question: "more?"}, nil
	})
	s := newTestMaestro(t, p, nil)

	sent, err := s.handleSend(context.Background(), buildRequest("maestro.send", map[string]any{"text": "go"}))
	require.NoError(t, err)
	task := taskFromResult(t, sent)

	cancelled, err := s.handleCancel(context.Background(), buildRequest("maestro.cancel", map[string]any{
		"task_id": task.ID,
	}))
	require.NoError(t, err)
	got := taskFromResult(t, cancelled)
	assert.Equal(t, schema.TaskStateCancelled, got.Status.State)

	again, err := s.handleCancel(context.Background(), buildRequest("maestro.cancel", map[string]any{
		"task_id": task.ID,
	}))
	require.NoError(t, err)
	assert.True(t, again.IsError)
}

func TestServerRegistersTools(t *testing.T) {
	s := newTestMaestro(t, singleNodePlanner(), doneWorker())
	require.NotNil(t, s.MCPServer())
	assert.Len(t, s.tools(), 3)
}
