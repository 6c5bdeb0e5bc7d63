package diagram

import "github.com/rendis/nodeflow/pkg/schema"

// NodeKind classifies a diagram node by its workflow node type.
type NodeKind string

const (
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
	NodeKindTool      NodeKind = "tool"
	NodeKindCondition NodeKind = "condition"
	NodeKindLoop      NodeKind = "loop"
	NodeKindCode      NodeKind = "code"
	NodeKindUnknown   NodeKind = "unknown"
)

func kindOf(t schema.NodeType) NodeKind {
	if !t.Valid() {
		return NodeKindUnknown
	}
	return NodeKind(t)
}

// Run status values carried by a StatusOverlay.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Detail string // tool reference, condition text, loop mode or code language
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the outcome of a recorded run for a node.
type StatusOverlay struct {
	Status string
	Visits int
	Error  string
}

// Edge is a directed transition between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}

// Node looks up a node by ID.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
