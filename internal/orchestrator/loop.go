package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/maestro-ai/maestro/internal/graph"
	"github.com/maestro-ai/maestro/internal/logging"
	"github.com/maestro-ai/maestro/internal/protocol"
	"github.com/maestro-ai/maestro/internal/session"
	"github.com/maestro-ai/maestro/pkg/schema"
)

// execute runs the dispatch loop until the graph completes, pauses for input,
// stalls, or the iteration budget runs out.
func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	for iteration := 0; !r.graph.IsComplete() && !r.graph.HasPausedNodes(); iteration++ {
		if err := ctx.Err(); err != nil {
			return o.failRequest(ctx, r, "request cancelled: "+err.Error())
		}
		if iteration >= o.config.MaxIterations {
			o.logger.WarnContext(ctx, "iteration budget exhausted", "iterations", iteration)
			limitErr := schema.NewErrorf(schema.ErrCodeIterationLimit,
				"iteration limit of %d exceeded; resubmit to continue", o.config.MaxIterations)
			return o.failRequest(ctx, r, limitErr.Error())
		}

		ready := r.graph.ReadyNodes()
		if len(ready) == 0 {
			if allBlockedByFailure(r.graph) {
				// Remaining nodes can never run; finish with what completed.
				break
			}
			o.logger.ErrorContext(ctx, "graph stalled", "nodes", r.graph.Len())
			deadlock := schema.NewError(schema.ErrCodeDeadlock,
				"graph is neither complete nor paused but has no runnable nodes")
			return o.failRequest(ctx, r, deadlock.Error())
		}

		for _, node := range ready {
			paused, err := o.executeNode(ctx, r, node)
			if err != nil {
				return err
			}
			if paused {
				// Remaining ready nodes wait until input arrives.
				return nil
			}
		}
	}
	if r.graph.HasPausedNodes() {
		return nil
	}
	return o.finish(ctx, r)
}

// executeNode dispatches one ready node to its agent and applies the outcome.
// Executor failures are recorded on the node and never propagate; the returned
// error is reserved for persistence and protocol bookkeeping.
func (o *Orchestrator) executeNode(ctx context.Context, r *run, node *graph.WorkflowNode) (paused bool, err error) {
	ctx = logging.WithNodeID(ctx, node.ID)

	running := schema.NodeStateRunning
	if err := r.graph.UpdateNode(node.ID, graph.NodeUpdate{State: &running}); err != nil {
		return false, err
	}
	if err := o.save(ctx, r); err != nil {
		return false, err
	}
	o.logger.InfoContext(ctx, "dispatching node", "agent", node.Agent)

	exec, err := o.agents.Resolve(ctx, node.Agent)
	if err != nil {
		return false, o.markNodeFailed(ctx, r, node, err.Error())
	}

	result, err := exec.Execute(ctx, o.buildQuery(r, node), r.sess.ContextID, r.task.ID)
	if err != nil {
		return false, o.markNodeFailed(ctx, r, node, err.Error())
	}

	if result.RequiresInput {
		return true, o.pauseNode(ctx, r, node, result.Content)
	}
	if !result.Success {
		detail := result.Content
		if detail == "" {
			detail = "agent reported failure"
		}
		return false, o.markNodeFailed(ctx, r, node, detail)
	}

	artifact := newArtifact(node.ID, node.ID, result.Content, result.Data)
	completed := schema.NodeStateCompleted
	update := graph.NodeUpdate{State: &completed, Result: &artifact}
	if err := r.graph.UpdateNode(node.ID, update); err != nil {
		return false, err
	}
	r.sess.AppendArtifact(artifact)
	if err := o.tasks.AddArtifact(ctx, r.task, artifact); err != nil {
		return false, err
	}
	if err := o.save(ctx, r); err != nil {
		return false, err
	}
	o.logger.InfoContext(ctx, "node completed")
	return false, o.emit(ctx, r, false)
}

// markNodeFailed records an executor failure on the node. The loop keeps
// going; dependents of this node can never become ready.
func (o *Orchestrator) markNodeFailed(ctx context.Context, r *run, node *graph.WorkflowNode, detail string) error {
	o.logger.WarnContext(ctx, "node failed", "error", detail)
	failed := schema.NodeStateFailed
	if err := r.graph.UpdateNode(node.ID, graph.NodeUpdate{State: &failed, Error: &detail}); err != nil {
		return err
	}
	if err := o.save(ctx, r); err != nil {
		return err
	}
	return o.emit(ctx, r, false)
}

// pauseNode parks the node until the caller supplies more input and ends the
// request with a terminal input-required frame.
func (o *Orchestrator) pauseNode(ctx context.Context, r *run, node *graph.WorkflowNode, question string) error {
	pausedState := schema.NodeStatePaused
	if err := r.graph.UpdateNode(node.ID, graph.NodeUpdate{State: &pausedState}); err != nil {
		return err
	}
	if err := session.Transition(r.sess, schema.SessionStatePaused); err != nil {
		return err
	}

	msg := protocol.NewAgentMessage(question)
	if err := o.transitionTask(ctx, r, schema.TaskStateInputRequired, "agent needs input", msg); err != nil {
		return err
	}
	if err := o.save(ctx, r); err != nil {
		return err
	}
	o.logger.InfoContext(logging.WithNodeID(ctx, node.ID), "node paused for input")
	return o.emit(ctx, r, true)
}

// finish aggregates the accumulated results into a final artifact and closes
// the request.
func (o *Orchestrator) finish(ctx context.Context, r *run) error {
	aggregate := o.aggregate(ctx, r)
	r.sess.AppendArtifact(aggregate)
	if err := o.tasks.AddArtifact(ctx, r.task, aggregate); err != nil {
		return err
	}
	if r.sess.State != schema.SessionStateCompleted {
		if err := session.Transition(r.sess, schema.SessionStateCompleted); err != nil {
			return err
		}
	}
	if err := o.save(ctx, r); err != nil {
		return err
	}

	summary := protocol.NewAgentMessage(aggregate.Text())
	if err := o.transitionTask(ctx, r, schema.TaskStateCompleted, "all runnable nodes finished", summary); err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "request completed",
		"artifacts", len(r.graph.CompletedArtifacts()), "failed_nodes", len(r.graph.FailedNodes()))
	return o.emit(ctx, r, true)
}

// buildQuery assembles the payload for a node: its planned query, results of
// its completed dependencies, and any input supplied while it was paused.
func (o *Orchestrator) buildQuery(r *run, node *graph.WorkflowNode) string {
	var b strings.Builder
	b.WriteString(node.Query)

	for _, dep := range node.DependsOn {
		depNode := r.graph.GetNode(dep)
		if depNode == nil || depNode.Result == nil {
			continue
		}
		if text := depNode.Result.Text(); text != "" {
			fmt.Fprintf(&b, "\n\nResult of %s:\n%s", dep, text)
		}
	}
	if input, ok := node.Metadata["userInput"].(string); ok && input != "" {
		fmt.Fprintf(&b, "\n\nAdditional input from user:\n%s", input)
	}
	return b.String()
}

// allBlockedByFailure reports whether every non-terminal node is transitively
// blocked by a failed dependency, meaning the loop can never make progress and
// the request should finish with partial results.
func allBlockedByFailure(g *graph.WorkflowGraph) bool {
	blocked := make(map[string]bool)
	var isBlocked func(node *graph.WorkflowNode, seen map[string]bool) bool
	isBlocked = func(node *graph.WorkflowNode, seen map[string]bool) bool {
		if v, ok := blocked[node.ID]; ok {
			return v
		}
		if seen[node.ID] {
			return false // cycle, not a failure chain
		}
		seen[node.ID] = true
		for _, dep := range node.DependsOn {
			depNode := g.GetNode(dep)
			if depNode == nil {
				continue
			}
			if depNode.State == schema.NodeStateFailed || isBlocked(depNode, seen) {
				blocked[node.ID] = true
				return true
			}
		}
		blocked[node.ID] = false
		return false
	}

	sawNonTerminal := false
	for _, node := range g.Nodes() {
		if node.State.Terminal() {
			continue
		}
		sawNonTerminal = true
		if !isBlocked(node, make(map[string]bool)) {
			return false
		}
	}
	return sawNonTerminal
}
