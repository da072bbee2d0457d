package graph

import (
	"time"

	"github.com/maestro-ai/maestro/pkg/schema"
)

// WorkflowNode is one unit of schedulable work, generally mapped to a single
// remote agent call.
type WorkflowNode struct {
	ID          string           `json:"id"`
	Kind        schema.NodeKind  `json:"kind"`
	Agent       string           `json:"agent"`
	Query       string           `json:"query"`
	DependsOn   []string         `json:"dependsOn,omitempty"`
	State       schema.NodeState `json:"state"`
	Result      *schema.Artifact `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// NodeUpdate specifies mutable fields of a node. Nil fields are left as-is.
type NodeUpdate struct {
	State    *schema.NodeState
	Result   *schema.Artifact
	Error    *string
	Metadata map[string]any
}

// WorkflowGraph is a mutable DAG of workflow nodes with dependency edges.
//
// It is not safe for concurrent writers; access is serialized per context by
// the session registry.
type WorkflowGraph struct {
	nodes      map[string]*WorkflowNode
	dependents map[string][]string // node ID → nodes that depend on it
	order      []string            // insertion order
}

// New creates an empty WorkflowGraph.
func New() *WorkflowGraph {
	return &WorkflowGraph{
		nodes:      make(map[string]*WorkflowNode),
		dependents: make(map[string][]string),
	}
}

// AddNode inserts a node in the ready state and records its dependency edges.
// Dependency IDs need not resolve to already-added nodes; edges are recorded
// eagerly and re-checked when computing the ready set.
func (g *WorkflowGraph) AddNode(cfg schema.NodeConfig) (*WorkflowNode, error) {
	if cfg.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "node has empty ID")
	}
	if _, exists := g.nodes[cfg.ID]; exists {
		return nil, schema.NewErrorf(schema.ErrCodeDuplicateNode, "duplicate node ID: %s", cfg.ID)
	}

	kind := cfg.Kind
	if kind == "" {
		kind = schema.NodeKindAgent
	}

	seen := make(map[string]bool, len(cfg.DependsOn))
	deps := make([]string, 0, len(cfg.DependsOn))
	for _, dep := range cfg.DependsOn {
		if dep == cfg.ID {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %s depends on itself", cfg.ID)
		}
		if seen[dep] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %s has duplicate dependency: %s", cfg.ID, dep)
		}
		seen[dep] = true
		deps = append(deps, dep)
	}

	now := time.Now().UTC()
	node := &WorkflowNode{
		ID:        cfg.ID,
		Kind:      kind,
		Agent:     cfg.Agent,
		Query:     cfg.Query,
		DependsOn: deps,
		State:     schema.NodeStateReady,
		Metadata:  cfg.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	g.nodes[cfg.ID] = node
	g.order = append(g.order, cfg.ID)
	for _, dep := range deps {
		g.dependents[dep] = append(g.dependents[dep], cfg.ID)
	}
	return node, nil
}

// GetNode returns the node with the given ID, or nil if absent.
func (g *WorkflowGraph) GetNode(id string) *WorkflowNode {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *WorkflowGraph) Len() int {
	return len(g.nodes)
}

// Nodes returns all nodes in insertion order.
func (g *WorkflowGraph) Nodes() []*WorkflowNode {
	out := make([]*WorkflowNode, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Dependents returns the IDs of nodes that depend on the given node.
func (g *WorkflowGraph) Dependents(id string) []string {
	return g.dependents[id]
}

// UpdateNode merges the update into the node and stamps its update time.
// Fails with NODE_NOT_FOUND if the ID is absent.
func (g *WorkflowGraph) UpdateNode(id string, update NodeUpdate) error {
	node, ok := g.nodes[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNodeNotFound, "node not found: %s", id)
	}

	now := time.Now().UTC()
	if update.State != nil {
		node.State = *update.State
		if node.State == schema.NodeStateCompleted && node.CompletedAt == nil {
			completed := now
			node.CompletedAt = &completed
		}
	}
	if update.Result != nil {
		node.Result = update.Result
	}
	if update.Error != nil {
		node.Error = *update.Error
	}
	for k, v := range update.Metadata {
		if node.Metadata == nil {
			node.Metadata = make(map[string]any)
		}
		node.Metadata[k] = v
	}
	node.UpdatedAt = now
	return nil
}

// ReadyNodes returns, in insertion order, every node in the ready state whose
// dependencies are all completed. A node with any incomplete (or unresolved)
// dependency is never returned.
func (g *WorkflowGraph) ReadyNodes() []*WorkflowNode {
	var ready []*WorkflowNode
	for _, id := range g.order {
		node := g.nodes[id]
		if node.State != schema.NodeStateReady {
			continue
		}
		if g.depsCompleted(node) {
			ready = append(ready, node)
		}
	}
	return ready
}

func (g *WorkflowGraph) depsCompleted(node *WorkflowNode) bool {
	for _, dep := range node.DependsOn {
		depNode, ok := g.nodes[dep]
		if !ok || depNode.State != schema.NodeStateCompleted {
			return false
		}
	}
	return true
}

// IsComplete reports whether every node has reached a terminal state.
func (g *WorkflowGraph) IsComplete() bool {
	for _, node := range g.nodes {
		if !node.State.Terminal() {
			return false
		}
	}
	return true
}

// HasPausedNodes reports whether any node is waiting for out-of-band input.
func (g *WorkflowGraph) HasPausedNodes() bool {
	for _, node := range g.nodes {
		if node.State == schema.NodeStatePaused {
			return true
		}
	}
	return false
}

// PausedNodes returns all paused nodes in insertion order.
func (g *WorkflowGraph) PausedNodes() []*WorkflowNode {
	var paused []*WorkflowNode
	for _, id := range g.order {
		if node := g.nodes[id]; node.State == schema.NodeStatePaused {
			paused = append(paused, node)
		}
	}
	return paused
}

// FailedNodes returns all failed nodes in insertion order.
func (g *WorkflowGraph) FailedNodes() []*WorkflowNode {
	var failed []*WorkflowNode
	for _, id := range g.order {
		if node := g.nodes[id]; node.State == schema.NodeStateFailed {
			failed = append(failed, node)
		}
	}
	return failed
}

// CompletedArtifacts returns the results of completed nodes with a non-empty
// result, ordered by completion timestamp ascending.
func (g *WorkflowGraph) CompletedArtifacts() []schema.Artifact {
	var nodes []*WorkflowNode
	for _, id := range g.order {
		node := g.nodes[id]
		if node.State == schema.NodeStateCompleted && node.Result != nil {
			nodes = append(nodes, node)
		}
	}

	// Insertion sort by completion time; graphs are small.
	for i := 1; i < len(nodes); i++ {
		key := nodes[i]
		j := i - 1
		for j >= 0 && completedAfter(nodes[j], key) {
			nodes[j+1] = nodes[j]
			j--
		}
		nodes[j+1] = key
	}

	out := make([]schema.Artifact, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, *n.Result)
	}
	return out
}

func completedAfter(a, b *WorkflowNode) bool {
	if a.CompletedAt == nil || b.CompletedAt == nil {
		return false
	}
	return a.CompletedAt.After(*b.CompletedAt)
}
