package schema

// NodeState represents the scheduling state of a workflow graph node.
type NodeState string

const (
	NodeStateReady     NodeState = "ready"
	NodeStateRunning   NodeState = "running"
	NodeStateCompleted NodeState = "completed"
	NodeStateFailed    NodeState = "failed"
	NodeStatePaused    NodeState = "paused"
)

// Terminal reports whether a node has finished scheduling for good.
func (s NodeState) Terminal() bool {
	return s == NodeStateCompleted || s == NodeStateFailed
}

// NodeKind distinguishes nodes dispatched to remote agents from plain tasks.
type NodeKind string

const (
	NodeKindAgent NodeKind = "agent"
	NodeKindTask  NodeKind = "task"
)

// NodeConfig is the planner-supplied definition of one schedulable node.
type NodeConfig struct {
	ID        string         `json:"id"`
	Kind      NodeKind       `json:"kind,omitempty"` // default: agent
	Agent     string         `json:"agent"`          // logical target agent name
	Query     string         `json:"query"`          // payload sent to the agent
	DependsOn []string       `json:"dependsOn,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionState represents the orchestration lifecycle of a context.
type SessionState string

const (
	SessionStateNew       SessionState = "new"
	SessionStatePlanning  SessionState = "planning"
	SessionStateExecuting SessionState = "executing"
	SessionStatePaused    SessionState = "paused"
	SessionStateCompleted SessionState = "completed"
)

// ValidSessionTransitions defines the allowed session state transitions.
// paused resumes to executing when the pause came from a node, or back to
// planning when the planner itself asked for more input.
var ValidSessionTransitions = map[SessionState][]SessionState{
	SessionStateNew:       {SessionStatePlanning},
	SessionStatePlanning:  {SessionStateExecuting, SessionStatePaused},
	SessionStateExecuting: {SessionStatePaused, SessionStateCompleted, SessionStateExecuting},
	SessionStatePaused:    {SessionStateExecuting, SessionStatePlanning},
	SessionStateCompleted: {},
}
