// Package protocol implements the task lifecycle state machine: a fixed set
// of states, an append-only transition log, and durable message history.
package protocol

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/internal/store"
	"github.com/maestro-ai/maestro/pkg/schema"
)

// TaskManager tracks tasks through their protocol lifecycle and persists
// every mutation through the session store.
type TaskManager struct {
	store store.Store
	ttl   time.Duration
}

// NewTaskManager creates a TaskManager persisting tasks with the given TTL.
func NewTaskManager(s store.Store, ttl time.Duration) *TaskManager {
	return &TaskManager{store: s, ttl: ttl}
}

// CreateTask creates a task in the submitted state, records the inbound user
// message in its history, and persists it.
func (m *TaskManager) CreateTask(ctx context.Context, contextID string, msg *schema.Message) (*schema.Task, error) {
	now := time.Now().UTC()
	task := &schema.Task{
		ID:        uuid.New().String(),
		ContextID: contextID,
		Kind:      schema.KindTask,
		Status: schema.TaskStatus{
			State:     schema.TaskStateSubmitted,
			Timestamp: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if msg != nil {
		msg.TaskID = task.ID
		msg.ContextID = contextID
		task.History = append(task.History, *msg)
	}
	if err := m.persist(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask loads a task by ID. Returns (nil, nil) when absent.
func (m *TaskManager) GetTask(ctx context.Context, taskID string) (*schema.Task, error) {
	data, err := m.store.Get(ctx, store.TaskKey(taskID))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load task %s: %s", taskID, err.Error()).WithCause(err)
	}
	if data == nil {
		return nil, nil
	}
	var task schema.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode task %s: %s", taskID, err.Error()).WithCause(err)
	}
	return &task, nil
}

// RecordTransition appends {from, to, timestamp, reason} to the task's
// transition log, updates its status, recomputes the final flag, and persists
// the task.
//
// A task whose final flag is already set rejects every further transition;
// this is the guard that discards late executor results landing on a
// cancelled task.
func (m *TaskManager) RecordTransition(ctx context.Context, task *schema.Task, newState schema.TaskState, reason string, statusMsg *schema.Message) error {
	if task.Final {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"task %s is final in state %s, cannot transition to %s", task.ID, task.Status.State, newState)
	}
	if !isValidTaskTransition(task.Status.State, newState) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid task transition: %s -> %s", task.Status.State, newState).
			WithDetails(map[string]any{"task_id": task.ID})
	}

	now := time.Now().UTC()
	task.Transitions = append(task.Transitions, schema.StateTransition{
		From:      task.Status.State,
		To:        newState,
		Timestamp: now,
		Reason:    reason,
	})
	if statusMsg != nil {
		statusMsg.TaskID = task.ID
		statusMsg.ContextID = task.ContextID
	}
	task.Status = schema.TaskStatus{
		State:     newState,
		Message:   statusMsg,
		Timestamp: now,
	}
	task.Final = newState.Terminal()
	task.UpdatedAt = now

	return m.persist(ctx, task)
}

// AddMessage appends a message to the task's history and persists it.
func (m *TaskManager) AddMessage(ctx context.Context, task *schema.Task, msg schema.Message) error {
	msg.TaskID = task.ID
	msg.ContextID = task.ContextID
	task.History = append(task.History, msg)
	task.UpdatedAt = time.Now().UTC()
	return m.persist(ctx, task)
}

// AddArtifact appends an artifact to the task and persists it.
func (m *TaskManager) AddArtifact(ctx context.Context, task *schema.Task, artifact schema.Artifact) error {
	task.Artifacts = append(task.Artifacts, artifact)
	task.UpdatedAt = time.Now().UTC()
	return m.persist(ctx, task)
}

func (m *TaskManager) persist(ctx context.Context, task *schema.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "encode task %s: %s", task.ID, err.Error()).WithCause(err)
	}
	if err := m.store.Put(ctx, store.TaskKey(task.ID), data, m.ttl); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist task %s: %s", task.ID, err.Error()).WithCause(err)
	}
	return nil
}

func isValidTaskTransition(from, to schema.TaskState) bool {
	allowed, ok := schema.ValidTaskTransitions[from]
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

// NewAgentMessage builds an agent-authored message with a single text part.
func NewAgentMessage(text string) *schema.Message {
	return &schema.Message{
		MessageID: uuid.New().String(),
		Role:      schema.RoleAgent,
		Parts:     []schema.Part{schema.TextPart(text)},
		Timestamp: time.Now().UTC(),
	}
}
