// Package mcp exposes the orchestrator to MCP-speaking agents: maestro.send
// submits a message and returns the resulting task, maestro.status polls a
// persisted task, and maestro.cancel stops one. Streaming goes over HTTP; this
// facade is the polling path over persisted state.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/maestro-ai/maestro/internal/orchestrator"
)

// MaestroServerDeps holds the dependencies for creating a MaestroServer.
type MaestroServerDeps struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
}

// MaestroServer wraps an MCP server with orchestrator tool handlers.
type MaestroServer struct {
	orch      *orchestrator.Orchestrator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewMaestroServer creates a MaestroServer with all tools registered.
func NewMaestroServer(deps MaestroServerDeps) *MaestroServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &MaestroServer{
		orch:   deps.Orchestrator,
		logger: logger,
	}

	mcpSrv := server.NewMCPServer(
		"maestro",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Maestro orchestrates multi-agent workflows. Use maestro.send to submit a request (pass context_id to continue a conversation or answer an input-required task), maestro.status to poll a task, and maestro.cancel to stop one."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *MaestroServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *MaestroServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *MaestroServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: sendTool(), Handler: s.handleSend},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
	}
}

// --- Tool definitions ---

func sendTool() mcp.Tool {
	return mcp.NewTool("maestro.send",
		mcp.WithDescription("Submit a request to the orchestrator and wait for the outcome"),
		mcp.WithString("text", mcp.Required(), mcp.Description("The request or follow-up input")),
		mcp.WithString("context_id", mcp.Description("Conversation context to continue (omit to start a new one)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("maestro.status",
		mcp.WithDescription("Get the current state of a task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task to query")),
		mcp.WithNumber("history_length", mcp.Description("Limit message history to the last N entries")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("maestro.cancel",
		mcp.WithDescription("Cancel a non-final task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task to cancel")),
	)
}
