// Package session holds the per-context orchestration record and the scoped
// registry that serializes access to it.
package session

import (
	"encoding/json"
	"time"

	"github.com/maestro-ai/maestro/pkg/schema"
)

// Session is the per-context orchestration record: conversation history, the
// serialized workflow graph, accumulated artifacts and the session state
// machine. It is the only shared mutable resource in the system and is not
// safe for concurrent writers; the Registry serializes access per context.
type Session struct {
	ContextID    string              `json:"contextId"`
	State        schema.SessionState `json:"state"`
	History      []schema.Message    `json:"history,omitempty"`
	Graph        json.RawMessage     `json:"graph,omitempty"`
	Artifacts    []schema.Artifact   `json:"artifacts,omitempty"`
	ActiveTaskID string              `json:"activeTaskId,omitempty"`
	// PlannerPaused marks a pause that originated in the planning phase
	// rather than in node execution; resuming returns to planning.
	PlannerPaused bool      `json:"plannerPaused,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActivity  time.Time `json:"lastActivity"`
}

// Transition validates and applies a session state change.
func Transition(sess *Session, to schema.SessionState) error {
	if !isValidSessionTransition(sess.State, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid session transition: %s -> %s", sess.State, to).
			WithDetails(map[string]any{"context_id": sess.ContextID})
	}
	sess.State = to
	return nil
}

func isValidSessionTransition(from, to schema.SessionState) bool {
	allowed, ok := schema.ValidSessionTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// AppendHistory adds a message to the conversation history.
func (s *Session) AppendHistory(msg schema.Message) {
	msg.ContextID = s.ContextID
	s.History = append(s.History, msg)
}

// AppendArtifact records a completed node's result in completion order.
func (s *Session) AppendArtifact(artifact schema.Artifact) {
	s.Artifacts = append(s.Artifacts, artifact)
}
