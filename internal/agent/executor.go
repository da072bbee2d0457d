// Package agent defines the executor boundary to remote agents: a typed
// name-keyed registry, an HTTP client executor, and the optional discovery
// collaborator.
package agent

import "context"

// Result is the outcome of one remote agent call.
type Result struct {
	Success       bool           `json:"success"`
	Content       string         `json:"content"`
	Data          map[string]any `json:"data,omitempty"`
	RequiresInput bool           `json:"requiresInput"`
}

// Executor is the boundary to one remote agent. Implementations must complete
// or fail within a bounded time; the orchestrator never retries internally.
type Executor interface {
	Execute(ctx context.Context, query, contextID, taskID string) (*Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, query, contextID, taskID string) (*Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, query, contextID, taskID string) (*Result, error) {
	return f(ctx, query, contextID, taskID)
}

// Card describes a callable remote agent endpoint.
type Card struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
}
