// Package orchestrator runs the control loop: it loads or creates the session
// for a context, plans a workflow graph on first contact, dispatches ready
// nodes to remote agents, applies results, and decides when the request is
// paused, failed, or complete. All progress is persisted after every mutation
// and mirrored to the caller as ordered status-update events.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/internal/agent"
	"github.com/maestro-ai/maestro/internal/graph"
	"github.com/maestro-ai/maestro/internal/logging"
	"github.com/maestro-ai/maestro/internal/planner"
	"github.com/maestro-ai/maestro/internal/protocol"
	"github.com/maestro-ai/maestro/internal/session"
	"github.com/maestro-ai/maestro/internal/streaming"
	"github.com/maestro-ai/maestro/pkg/schema"
)

// DefaultMaxIterations bounds the control loop per request.
const DefaultMaxIterations = 50

// Config holds orchestrator tunables.
type Config struct {
	MaxIterations   int
	SummarizerAgent string // optional agent name for final aggregation
}

// Orchestrator coordinates planning, dispatch, and task protocol bookkeeping
// for every context. One instance serves all contexts; per-context writes are
// serialized through the session registry.
type Orchestrator struct {
	sessions *session.Registry
	tasks    *protocol.TaskManager
	agents   *agent.Registry
	planner  planner.Planner
	hub      *streaming.Hub
	logger   *slog.Logger
	config   Config
}

// run bundles the mutable state of one request while the context lock is held.
type run struct {
	sess  *session.Session
	graph *graph.WorkflowGraph
	task  *schema.Task
	sink  streaming.Sink
}

// New creates an Orchestrator. hub may be nil when no side observers exist.
func New(sessions *session.Registry, tasks *protocol.TaskManager, agents *agent.Registry, p planner.Planner, hub *streaming.Hub, logger *slog.Logger, cfg Config) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sessions: sessions,
		tasks:    tasks,
		agents:   agents,
		planner:  p,
		hub:      hub,
		logger:   logger,
		config:   cfg,
	}
}

// ProcessMessage handles one inbound user message for a context: first contact
// plans and executes a new graph, input on a paused context resumes it, and a
// message on a completed context starts a fresh round with the accumulated
// history. Events go to sink in production order; the returned task is the
// final snapshot for this request.
func (o *Orchestrator) ProcessMessage(ctx context.Context, msg schema.Message, sink streaming.Sink) (*schema.Task, error) {
	if len(msg.Parts) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "message has no parts")
	}
	if sink == nil {
		sink = streaming.Discard{}
	}

	contextID := msg.ContextID
	if contextID == "" {
		contextID = uuid.New().String()
	}
	ctx = logging.WithContextID(ctx, contextID)

	release := o.sessions.Acquire(contextID)
	defer release()

	sess, err := o.sessions.Load(ctx, contextID)
	if err != nil {
		return nil, err
	}

	// A completed context starting a new request keeps its history and
	// artifacts but gets a fresh graph and lifecycle.
	if sess.State == schema.SessionStateCompleted {
		sess.State = schema.SessionStateNew
		sess.Graph = nil
		sess.ActiveTaskID = ""
		sess.PlannerPaused = false
	}

	msg.ContextID = contextID
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	sess.AppendHistory(msg)

	g, err := o.loadGraph(sess)
	if err != nil {
		return nil, err
	}
	r := &run{sess: sess, graph: g, sink: sink}

	resuming := sess.State == schema.SessionStatePaused && sess.ActiveTaskID != ""
	if resuming {
		task, err := o.tasks.GetTask(ctx, sess.ActiveTaskID)
		if err != nil {
			return nil, err
		}
		if task == nil || task.Final {
			// The paused task was cancelled or lost; start a fresh round.
			resuming = false
			sess.State = schema.SessionStateNew
			sess.Graph = nil
			sess.ActiveTaskID = ""
			sess.PlannerPaused = false
			if g, err = o.loadGraph(sess); err != nil {
				return nil, err
			}
			r.graph = g
		} else {
			r.task = task
			msg.TaskID = task.ID
			if err := o.tasks.AddMessage(ctx, task, msg); err != nil {
				return nil, err
			}
		}
	}
	if !resuming {
		task, err := o.tasks.CreateTask(ctx, contextID, &msg)
		if err != nil {
			return nil, err
		}
		r.task = task
		sess.ActiveTaskID = task.ID
	}
	ctx = logging.WithTaskID(ctx, r.task.ID)

	if !resuming {
		if err := o.emit(ctx, r, false); err != nil {
			return nil, err
		}
	}

	o.logger.InfoContext(ctx, "processing message",
		"session_state", sess.State, "resuming", resuming)

	if resuming {
		err = o.resume(ctx, r, textOf(msg))
	} else {
		err = o.start(ctx, r, textOf(msg))
	}
	if err != nil {
		return r.task, err
	}
	return r.task, nil
}

// start drives a fresh request: plan when the graph is empty, then execute.
func (o *Orchestrator) start(ctx context.Context, r *run, query string) error {
	if err := o.transitionTask(ctx, r, schema.TaskStateWorking, "request accepted", nil); err != nil {
		return err
	}
	if err := o.emit(ctx, r, false); err != nil {
		return err
	}

	if r.graph.Len() == 0 {
		if r.sess.State == schema.SessionStateNew {
			if err := session.Transition(r.sess, schema.SessionStatePlanning); err != nil {
				return err
			}
		}
		done, err := o.plan(ctx, r, query)
		if err != nil || done {
			return err
		}
	}
	return o.execute(ctx, r)
}

// resume routes new input either back to the planner or to the paused node,
// then continues execution.
func (o *Orchestrator) resume(ctx context.Context, r *run, input string) error {
	if err := o.transitionTask(ctx, r, schema.TaskStateWorking, "input received", nil); err != nil {
		return err
	}
	if err := o.emit(ctx, r, false); err != nil {
		return err
	}

	if r.sess.PlannerPaused {
		if err := session.Transition(r.sess, schema.SessionStatePlanning); err != nil {
			return err
		}
		r.sess.PlannerPaused = false
		done, err := o.plan(ctx, r, input)
		if err != nil || done {
			return err
		}
		return o.execute(ctx, r)
	}

	if err := session.Transition(r.sess, schema.SessionStateExecuting); err != nil {
		return err
	}
	for _, node := range r.graph.PausedNodes() {
		ready := schema.NodeStateReady
		update := graph.NodeUpdate{State: &ready, Metadata: map[string]any{"userInput": input}}
		if err := r.graph.UpdateNode(node.ID, update); err != nil {
			return err
		}
		break // input goes to the first paused node only
	}
	if err := o.save(ctx, r); err != nil {
		return err
	}
	return o.execute(ctx, r)
}

// plan asks the planner for a node list and loads it into the graph. Returns
// done=true when the request finished here (planner needs more input).
func (o *Orchestrator) plan(ctx context.Context, r *run, query string) (bool, error) {
	result, err := o.planner.Plan(ctx, query, r.sess.History)
	if err != nil {
		o.logger.ErrorContext(ctx, "planning failed", "error", err)
		return true, o.failRequest(ctx, r, err.Error())
	}

	if result.RequiresInput {
		if err := session.Transition(r.sess, schema.SessionStatePaused); err != nil {
			return true, err
		}
		r.sess.PlannerPaused = true
		question := protocol.NewAgentMessage(result.Question)
		if err := o.transitionTask(ctx, r, schema.TaskStateInputRequired, "planner needs input", question); err != nil {
			return true, err
		}
		if err := o.save(ctx, r); err != nil {
			return true, err
		}
		return true, o.emit(ctx, r, true)
	}

	for _, cfg := range result.Nodes {
		if _, err := r.graph.AddNode(cfg); err != nil {
			return true, o.failRequest(ctx, r, err.Error())
		}
	}
	if err := session.Transition(r.sess, schema.SessionStateExecuting); err != nil {
		return true, err
	}
	if err := o.save(ctx, r); err != nil {
		return true, err
	}
	o.logger.InfoContext(ctx, "plan created", "nodes", r.graph.Len())
	return false, nil
}

// transitionTask records a task state transition, skipping the no-op case of
// already being in the target state.
func (o *Orchestrator) transitionTask(ctx context.Context, r *run, state schema.TaskState, reason string, msg *schema.Message) error {
	if r.task.Status.State == state {
		if msg != nil {
			return o.tasks.AddMessage(ctx, r.task, *msg)
		}
		return nil
	}
	return o.tasks.RecordTransition(ctx, r.task, state, reason, msg)
}

// failRequest marks the task failed and emits the terminal failed event.
// The session is left as-is for inspection.
func (o *Orchestrator) failRequest(ctx context.Context, r *run, detail string) error {
	failure := protocol.NewAgentMessage(detail)
	if err := o.transitionTask(ctx, r, schema.TaskStateFailed, "request failed", failure); err != nil {
		return err
	}
	if err := o.save(ctx, r); err != nil {
		return err
	}
	return o.emit(ctx, r, true)
}

// emit sends the current task status to the request sink and mirrors it to the
// hub for side observers.
func (o *Orchestrator) emit(ctx context.Context, r *run, final bool) error {
	event := schema.NewStatusUpdate(r.task, final)
	if o.hub != nil {
		if err := o.hub.Publish(ctx, event); err != nil {
			o.logger.WarnContext(ctx, "hub publish failed", "error", err)
		}
	}
	return r.sink.Emit(ctx, event)
}

// save persists the session with the current graph snapshot.
func (o *Orchestrator) save(ctx context.Context, r *run) error {
	snapshot, err := r.graph.Serialize()
	if err != nil {
		return err
	}
	r.sess.Graph = snapshot
	return o.sessions.Save(ctx, r.sess)
}

func (o *Orchestrator) loadGraph(sess *session.Session) (*graph.WorkflowGraph, error) {
	if len(sess.Graph) == 0 {
		return graph.New(), nil
	}
	return graph.Deserialize(sess.Graph)
}

// GetTask returns a persisted task snapshot, trimming history to the last
// historyLength messages when historyLength >= 0.
func (o *Orchestrator) GetTask(ctx context.Context, taskID string, historyLength int) (*schema.Task, error) {
	task, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "task %s not found", taskID)
	}
	if historyLength >= 0 && len(task.History) > historyLength {
		task.History = task.History[len(task.History)-historyLength:]
	}
	return task, nil
}

// CancelTask transitions a non-final task to cancelled. A result from a still
// in-flight executor call lands after the final flag is set and is discarded
// by the transition guard.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID string) (*schema.Task, error) {
	task, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "task %s not found", taskID)
	}

	release := o.sessions.Acquire(task.ContextID)
	defer release()

	// Re-read under the lock; a concurrent request may have finished it, or
	// the record may have expired in the meantime.
	task, err = o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "task %s not found", taskID)
	}
	if task.Final {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"task %s is already final (%s)", taskID, task.Status.State)
	}

	note := protocol.NewAgentMessage("task cancelled by caller")
	if err := o.tasks.RecordTransition(ctx, task, schema.TaskStateCancelled, "cancel requested", note); err != nil {
		return nil, err
	}
	if o.hub != nil {
		_ = o.hub.Publish(ctx, schema.NewStatusUpdate(task, true))
	}
	o.logger.InfoContext(logging.WithIDs(ctx, task.ContextID, task.ID, ""), "task cancelled")
	return task, nil
}

// resubscribePollInterval bounds how long a live resubscription can lag a
// terminal transition the hub failed to deliver.
var resubscribePollInterval = 2 * time.Second

// Resubscribe replays the persisted transition history of a task as ordered
// events. A task that is still in flight stays subscribed to live events from
// the hub until a final frame arrives or ctx is cancelled.
func (o *Orchestrator) Resubscribe(ctx context.Context, taskID string, sink streaming.Sink) error {
	// Subscribe before reading the snapshot: a terminal transition landing
	// between the two is then either in the snapshot or on the live channel,
	// never in between.
	var live <-chan schema.StatusUpdateEvent
	if o.hub != nil {
		ch, cancel, err := o.hub.Subscribe(ctx, streaming.Filter{TaskID: taskID})
		if err != nil {
			return err
		}
		defer cancel()
		live = ch
	}

	task, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "task %s not found", taskID)
	}

	events := replayEvents(task)
	for _, ev := range events {
		if err := sink.Emit(ctx, ev); err != nil {
			return err
		}
	}
	last := events[len(events)-1]
	if last.Final {
		return nil
	}
	if live == nil {
		return nil
	}

	// Transitions are persisted before their frames are published, so a
	// re-read of the record covers anything the hub dropped.
	ticker := time.NewTicker(resubscribePollInterval)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-live:
			if !ok {
				return nil
			}
			// Skip frames the replay already covered.
			if !ev.Final && !ev.Status.Timestamp.After(last.Status.Timestamp) {
				continue
			}
			if err := sink.Emit(ctx, ev); err != nil {
				return err
			}
			if ev.Final {
				return nil
			}
			last = ev
		case <-ticker.C:
			task, err := o.tasks.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			if task == nil {
				return schema.NewErrorf(schema.ErrCodeNotFound, "task %s not found", taskID)
			}
			if task.Final || task.Status.State == schema.TaskStateInputRequired {
				return sink.Emit(ctx, schema.NewStatusUpdate(task, true))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// replayEvents rebuilds the event sequence from a task's transition log.
// The last frame is final when the task reached a terminal state or is
// waiting for input.
func replayEvents(task *schema.Task) []schema.StatusUpdateEvent {
	var events []schema.StatusUpdateEvent
	for _, tr := range task.Transitions {
		events = append(events, schema.StatusUpdateEvent{
			Kind:      schema.KindStatusUpdate,
			ContextID: task.ContextID,
			TaskID:    task.ID,
			Status:    schema.TaskStatus{State: tr.To, Timestamp: tr.Timestamp},
			Final:     false,
		})
	}
	last := schema.NewStatusUpdate(task, task.Final || task.Status.State == schema.TaskStateInputRequired)
	if n := len(events); n > 0 && events[n-1].Status.State == last.Status.State {
		events[n-1] = last
	} else {
		events = append(events, last)
	}
	return events
}

// textOf flattens the text parts of a message.
func textOf(msg schema.Message) string {
	var parts []string
	for _, p := range msg.Parts {
		if p.Kind == schema.PartKindText && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func newArtifact(name, nodeID, text string, data map[string]any) schema.Artifact {
	parts := []schema.Part{schema.TextPart(text)}
	if len(data) > 0 {
		parts = append(parts, schema.DataPart(data))
	}
	return schema.Artifact{
		ArtifactID: uuid.New().String(),
		Name:       name,
		NodeID:     nodeID,
		Parts:      parts,
		CreatedAt:  time.Now().UTC(),
	}
}

func nodeFailureText(node *graph.WorkflowNode) string {
	return fmt.Sprintf("node %s failed: %s", node.ID, node.Error)
}
