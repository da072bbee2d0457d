package graph

import (
	"encoding/json"

	"github.com/maestro-ai/maestro/pkg/schema"
)

// snapshot is the wire form of a graph. Nodes are stored in insertion order;
// dependent edges are rebuilt on restore from each node's dependency list.
type snapshot struct {
	Nodes []*WorkflowNode `json:"nodes"`
}

// Serialize encodes the graph as JSON. Round-tripping through Deserialize
// preserves the exact node set, edge set and states.
func (g *WorkflowGraph) Serialize() ([]byte, error) {
	snap := snapshot{Nodes: make([]*WorkflowNode, 0, len(g.order))}
	for _, id := range g.order {
		snap.Nodes = append(snap.Nodes, g.nodes[id])
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "serialize graph: %s", err.Error()).WithCause(err)
	}
	return data, nil
}

// Deserialize decodes a serialized graph, rebuilding the dependent index.
func Deserialize(data []byte) (*WorkflowGraph, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "deserialize graph: %s", err.Error()).WithCause(err)
	}

	g := New()
	for _, node := range snap.Nodes {
		if node.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "serialized node has empty ID")
		}
		if _, exists := g.nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeDuplicateNode, "duplicate node ID in snapshot: %s", node.ID)
		}
		g.nodes[node.ID] = node
		g.order = append(g.order, node.ID)
		for _, dep := range node.DependsOn {
			g.dependents[dep] = append(g.dependents[dep], node.ID)
		}
	}
	return g, nil
}
