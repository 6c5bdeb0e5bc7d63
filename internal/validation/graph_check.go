package validation

import (
	"fmt"

	"github.com/rendis/nodeflow/internal/graph"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Source handles a condition node's edges may carry.
const (
	handleTrue  = "true"
	handleFalse = "false"
)

// validateGraph analyses the node graph: start node presence, outgoing edge
// shape per node type, reachability from the start node (BFS) and cycles
// that have no condition node to leave them (Kahn's algorithm).
// Cycles themselves are legal; only the start node check produces an error.
func validateGraph(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	idx := graph.New(wf)

	start, err := idx.FindStart()
	if err != nil {
		result.AddError("nodes", schema.ErrCodeNoStartNode, "workflow has no start node")
		return result
	}

	starts := 0
	for _, id := range idx.NodeIDs() {
		n, _ := idx.Node(id)
		if n.Type == schema.NodeTypeStart {
			starts++
		}
		checkOutgoing(n, idx.Outgoing(id), result)
	}
	if starts > 1 {
		result.AddWarning("nodes", schema.ErrCodeValidation,
			fmt.Sprintf("workflow has %d start nodes; only %q is used", starts, start))
	}

	reachable := reachableFrom(idx, start)
	for _, id := range idx.NodeIDs() {
		if !reachable[id] {
			result.AddWarning(nodePath(id), schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from the start node", id))
		}
	}

	if cyclic := cyclicNodes(idx, reachable); len(cyclic) > 0 {
		exit := false
		for _, id := range cyclic {
			if n, _ := idx.Node(id); n.Type == schema.NodeTypeCondition {
				exit = true
				break
			}
		}
		if !exit {
			result.AddWarning("edges", schema.ErrCodeValidation,
				fmt.Sprintf("cycle through %q has no condition node and never terminates", cyclic[0]))
		}
	}

	return result
}

func checkOutgoing(n *schema.Node, out []schema.Edge, result *schema.ValidationResult) {
	path := nodePath(n.ID)
	switch n.Type {
	case schema.NodeTypeCondition:
		for _, e := range out {
			if e.SourceHandle != handleTrue && e.SourceHandle != handleFalse {
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("edge %s -> %s has no true/false handle and is never followed", e.Source, e.Target))
			}
		}
	case schema.NodeTypeLoop:
		if len(out) == 0 {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("loop %q has no body", n.ID))
		} else if len(out) > 1 {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("loop %q has %d outgoing edges; only the first is run as the body", n.ID, len(out)))
		}
	case schema.NodeTypeEnd:
		if len(out) > 0 {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("end node %q has outgoing edges; traversal continues past it", n.ID))
		}
	default:
		if len(out) > 1 {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("node %q has %d outgoing edges; only the first is followed", n.ID, len(out)))
		}
	}
}

// reachableFrom returns every node reachable from start over any edge.
func reachableFrom(idx *graph.Index, start string) map[string]bool {
	reachable := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range idx.Next(id) {
			if _, err := idx.Node(next); err != nil || reachable[next] {
				continue
			}
			reachable[next] = true
			queue = append(queue, next)
		}
	}
	return reachable
}

// cyclicNodes runs Kahn's algorithm over the reachable subgraph and returns
// the nodes it could not order, in definition order: those on a cycle or
// downstream of one.
func cyclicNodes(idx *graph.Index, reachable map[string]bool) []string {
	inDegree := make(map[string]int, len(reachable))
	for id := range reachable {
		for _, next := range idx.Next(id) {
			if reachable[next] {
				inDegree[next]++
			}
		}
	}

	var queue []string
	for _, id := range idx.NodeIDs() {
		if reachable[id] && inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range idx.Next(id) {
			if !reachable[next] {
				continue
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	var out []string
	for _, id := range idx.NodeIDs() {
		if reachable[id] && inDegree[id] > 0 {
			out = append(out, id)
		}
	}
	return out
}

func nodePath(id string) string {
	return fmt.Sprintf("nodes[%s]", id)
}
