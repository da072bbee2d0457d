package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultCallTimeout     = 60 * time.Second
)

// HTTPExecutorConfig configures the remote-agent HTTP client.
type HTTPExecutorConfig struct {
	Timeout         time.Duration // per-call deadline (default 60s)
	MaxResponseBody int64
}

// HTTPExecutor calls a remote agent over JSON-RPC (message/send) and maps the
// returned task or message back to an executor Result.
type HTTPExecutor struct {
	endpoint string
	client   *http.Client
	config   HTTPExecutorConfig
}

// NewHTTPExecutor creates an executor for the given agent endpoint URL.
func NewHTTPExecutor(endpoint string, cfg HTTPExecutorConfig) *HTTPExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	return &HTTPExecutor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		config:   cfg,
	}
}

// remoteResult is the permissive shape of a remote agent's response result:
// either a task snapshot or a bare message.
type remoteResult struct {
	Kind   string `json:"kind"`
	Status *struct {
		State   schema.TaskState `json:"state"`
		Message *schema.Message  `json:"message"`
	} `json:"status,omitempty"`
	Parts     []schema.Part     `json:"parts,omitempty"`
	Artifacts []schema.Artifact `json:"artifacts,omitempty"`
}

// Execute sends the query to the remote agent and blocks until it responds,
// fails, or the per-call deadline expires.
func (e *HTTPExecutor) Execute(ctx context.Context, query, contextID, taskID string) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	params := schema.MessageSendParams{
		Message: schema.Message{
			MessageID: uuid.New().String(),
			Role:      schema.RoleUser,
			Parts:     []schema.Part{schema.TextPart(query)},
			ContextID: contextID,
			TaskID:    taskID,
			Timestamp: time.Now().UTC(),
		},
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "encode request: %s", err.Error()).WithCause(err)
	}
	body, err := json.Marshal(schema.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  schema.MethodMessageSend,
		Params:  rawParams,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "encode envelope: %s", err.Error()).WithCause(err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "build request: %s", err.Error()).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "agent call timed out after %s", e.config.Timeout)
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "call agent: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "read response: %s", err.Error()).WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "agent returned HTTP %d", resp.StatusCode).
			WithDetails(map[string]any{"body": truncate(string(data), 512)})
	}

	var envelope struct {
		Result json.RawMessage      `json:"result"`
		Error  *schema.JSONRPCError `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "decode response: %s", err.Error()).WithCause(err)
	}
	if envelope.Error != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "agent error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}

	var result remoteResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "decode result: %s", err.Error()).WithCause(err)
	}
	return mapRemoteResult(&result), nil
}

// mapRemoteResult flattens the remote response into the boundary Result.
func mapRemoteResult(r *remoteResult) *Result {
	out := &Result{Success: true}

	if r.Status != nil {
		switch r.Status.State {
		case schema.TaskStateInputRequired:
			out.RequiresInput = true
		case schema.TaskStateFailed, schema.TaskStateCancelled:
			out.Success = false
		}
		if r.Status.Message != nil {
			out.Content = flattenParts(r.Status.Message.Parts, out)
		}
	}

	if out.Content == "" && len(r.Parts) > 0 {
		out.Content = flattenParts(r.Parts, out)
	}
	for _, a := range r.Artifacts {
		if text := a.Text(); text != "" {
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += text
		}
	}
	return out
}

func flattenParts(parts []schema.Part, out *Result) string {
	text := ""
	for _, p := range parts {
		switch p.Kind {
		case schema.PartKindText:
			if text != "" {
				text += "\n"
			}
			text += p.Text
		case schema.PartKindData:
			if out.Data == nil {
				out.Data = make(map[string]any)
			}
			for k, v := range p.Data {
				out.Data[k] = v
			}
		}
	}
	return text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:n], len(s))
}
