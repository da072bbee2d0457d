package schema

import "encoding/json"

// Result kinds carried in stream frames.
const (
	KindStatusUpdate = "status-update"
	KindTask         = "task"
)

// StatusUpdateEvent is one ordered progress frame for a logical request.
// Exactly one event per request is marked Final.
type StatusUpdateEvent struct {
	Kind      string     `json:"kind"` // always "status-update"
	ContextID string     `json:"contextId"`
	TaskID    string     `json:"taskId"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final"`
}

// NewStatusUpdate builds a status-update frame from a task snapshot.
func NewStatusUpdate(task *Task, final bool) StatusUpdateEvent {
	return StatusUpdateEvent{
		Kind:      KindStatusUpdate,
		ContextID: task.ContextID,
		TaskID:    task.ID,
		Status:    task.Status,
		Final:     final,
	}
}

// JSON-RPC method names exposed by the server.
const (
	MethodMessageSend      = "message/send"
	MethodMessageStream    = "message/stream"
	MethodTasksGet         = "tasks/get"
	MethodTasksCancel      = "tasks/cancel"
	MethodTasksResubscribe = "tasks/resubscribe"
)

// JSON-RPC error codes.
const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternalError  = -32603
)

// JSONRPCRequest is the inbound envelope.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is the outbound envelope; stream frames reuse it with one
// result per line.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError is the error member of a response envelope.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewResponse wraps a result in a response envelope.
func NewResponse(id, result any) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse wraps an error in a response envelope.
func NewErrorResponse(id any, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &JSONRPCError{Code: code, Message: message}}
}

// MessageSendParams carries the user message for message/send and
// message/stream.
type MessageSendParams struct {
	Message Message `json:"message"`
}

// TaskIDParams identifies a task for tasks/get, tasks/cancel and
// tasks/resubscribe.
type TaskIDParams struct {
	ID            string `json:"id"`
	HistoryLength *int   `json:"historyLength,omitempty"`
}
