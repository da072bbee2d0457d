package schema

import "time"

// TaskState represents the protocol-visible lifecycle state of a task.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCancelled     TaskState = "cancelled"
)

// Terminal reports whether a task in this state accepts no further transitions.
// input-required is deliberately non-terminal: the task is waiting, not done.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed || s == TaskStateCancelled
}

// ValidTaskTransitions defines the allowed task state transitions.
var ValidTaskTransitions = map[TaskState][]TaskState{
	TaskStateSubmitted:     {TaskStateWorking, TaskStateCancelled},
	TaskStateWorking:       {TaskStateCompleted, TaskStateFailed, TaskStateInputRequired, TaskStateCancelled},
	TaskStateInputRequired: {TaskStateWorking, TaskStateCancelled},
	TaskStateCompleted:     {},
	TaskStateFailed:        {},
	TaskStateCancelled:     {},
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Part kinds for message and artifact content.
const (
	PartKindText = "text"
	PartKindFile = "file"
	PartKindData = "data"
)

// Part is one unit of content inside a message or artifact.
type Part struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	File *FileRef       `json:"file,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// FileRef points at file content by URI or carries it inline as base64.
type FileRef struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
}

// TextPart builds a single text part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// DataPart builds a single structured-data part.
func DataPart(data map[string]any) Part {
	return Part{Kind: PartKindData, Data: data}
}

// Message is one entry in a task's (and session's) conversation history.
type Message struct {
	MessageID string    `json:"messageId"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	TaskID    string    `json:"taskId,omitempty"`
	ContextID string    `json:"contextId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskStatus is the current protocol state of a task.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateTransition is one entry in a task's append-only transition log.
type StateTransition struct {
	From      TaskState `json:"from"`
	To        TaskState `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Task is the caller-visible unit of work with a fixed lifecycle and
// durable history.
type Task struct {
	ID          string            `json:"id"`
	ContextID   string            `json:"contextId"`
	Kind        string            `json:"kind"`
	Status      TaskStatus        `json:"status"`
	History     []Message         `json:"history,omitempty"`
	Transitions []StateTransition `json:"transitions,omitempty"`
	Artifacts   []Artifact        `json:"artifacts,omitempty"`
	Final       bool              `json:"final"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Artifact is the captured result of one completed unit of work, retained
// in completion order for final aggregation.
type Artifact struct {
	ArtifactID string    `json:"artifactId"`
	Name       string    `json:"name,omitempty"`
	NodeID     string    `json:"nodeId,omitempty"`
	Parts      []Part    `json:"parts"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Text flattens an artifact's text parts into one string.
func (a Artifact) Text() string {
	out := ""
	for _, p := range a.Parts {
		if p.Kind == PartKindText {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}
