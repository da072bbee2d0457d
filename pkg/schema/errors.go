package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeDeadlock          = "DEADLOCK"
	ErrCodeIterationLimit    = "ITERATION_LIMIT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeDuplicateNode     = "DUPLICATE_NODE"
	ErrCodeNodeNotFound      = "NODE_NOT_FOUND"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodePlanning          = "PLANNING_ERROR"
)

// MaestroError is the structured error type for all maestro operations.
type MaestroError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *MaestroError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *MaestroError) Unwrap() error {
	return e.Cause
}

// NewError creates a new MaestroError.
func NewError(code, message string) *MaestroError {
	return &MaestroError{Code: code, Message: message}
}

// NewErrorf creates a new MaestroError with a formatted message.
func NewErrorf(code, format string, args ...any) *MaestroError {
	return &MaestroError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *MaestroError) WithNode(nodeID string) *MaestroError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *MaestroError) WithCause(err error) *MaestroError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *MaestroError) WithDetails(details map[string]any) *MaestroError {
	e.Details = details
	return e
}

// IsRetryable reports whether the caller may recover by resubmitting the
// request as-is. Only the iteration-limit safety valve qualifies.
func (e *MaestroError) IsRetryable() bool {
	return e.Code == ErrCodeIterationLimit
}
