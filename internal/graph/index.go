package graph

import (
	"github.com/rendis/nodeflow/pkg/schema"
)

// Index is the read-only lookup structure over a workflow's nodes and edges.
// Built once per run; safe for concurrent reads.
type Index struct {
	nodes    map[string]*schema.Node  // node ID → node
	order    []string                 // node IDs in definition order
	outgoing map[string][]schema.Edge // source ID → edges, in edge-list order
}

// New builds an Index from a workflow definition. When a node ID is
// duplicated the first definition wins.
func New(wf *schema.Workflow) *Index {
	idx := &Index{
		nodes:    make(map[string]*schema.Node),
		outgoing: make(map[string][]schema.Edge),
	}
	if wf == nil {
		return idx
	}

	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if _, exists := idx.nodes[n.ID]; exists {
			continue
		}
		idx.nodes[n.ID] = n
		idx.order = append(idx.order, n.ID)
	}
	for _, e := range wf.Edges {
		idx.outgoing[e.Source] = append(idx.outgoing[e.Source], e)
	}
	return idx
}

// FindStart returns the ID of the first start node in list order.
func (g *Index) FindStart() (string, error) {
	for _, id := range g.order {
		if g.nodes[id].Type == schema.NodeTypeStart {
			return id, nil
		}
	}
	return "", schema.NewError(schema.ErrCodeNoStartNode, "workflow has no start node")
}

// Node resolves a node by ID.
func (g *Index) Node(id string) (*schema.Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNodeNotFound, "node %q not found", id)
	}
	return n, nil
}

// Outgoing returns every edge whose source is id, in edge-list order.
func (g *Index) Outgoing(id string) []schema.Edge {
	return g.outgoing[id]
}

// Next returns the targets of Outgoing(id), in the same order.
func (g *Index) Next(id string) []string {
	edges := g.outgoing[id]
	if len(edges) == 0 {
		return nil
	}
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.Target
	}
	return out
}

// Len returns the number of distinct nodes.
func (g *Index) Len() int {
	return len(g.order)
}

// NodeIDs returns node IDs in definition order.
func (g *Index) NodeIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}
