package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/graph"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Build converts a workflow into a DiagramModel. When runLog is non-nil the
// nodes it mentions get a StatusOverlay.
func Build(wf *schema.Workflow, runLog []schema.LogEntry) (*DiagramModel, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	idx := graph.New(wf)
	model := &DiagramModel{Title: wf.Name}
	if model.Title == "" {
		model.Title = wf.ID
	}

	for _, id := range idx.NodeIDs() {
		n, _ := idx.Node(id)
		model.Nodes = append(model.Nodes, &Node{
			ID:     n.ID,
			Label:  n.DisplayName(),
			Detail: nodeDetail(n),
			Kind:   kindOf(n.Type),
		})
	}

	for _, e := range wf.Edges {
		if _, err := idx.Node(e.Source); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeNotFound,
				"edge %s: source %q not found", e.ID, e.Source)
		}
		if _, err := idx.Node(e.Target); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeNotFound,
				"edge %s: target %q not found", e.ID, e.Target)
		}
		model.Edges = append(model.Edges, Edge{From: e.Source, To: e.Target, Label: edgeLabel(idx, e)})
	}

	model.Levels = computeLevels(idx)

	if runLog != nil {
		applyRunLog(model, runLog)
	}
	return model, nil
}

// nodeDetail summarizes the node's configuration in one line.
func nodeDetail(n *schema.Node) string {
	switch n.Type {
	case schema.NodeTypeTool:
		if cfg, err := schema.ToolConfigOf(n); err == nil && cfg.ToolID != "" {
			return "tool " + cfg.ToolID
		}
	case schema.NodeTypeCondition:
		if cfg, err := schema.ConditionConfigOf(n); err == nil {
			return cfg.Condition
		}
	case schema.NodeTypeLoop:
		if cfg, err := schema.LoopConfigOf(n); err == nil {
			if cfg.LoopType == schema.LoopTypeWhile {
				return fmt.Sprintf("while %s (max %d)", cfg.Condition, cfg.MaxIterations)
			}
			return "for each " + cfg.ItemsKey
		}
	case schema.NodeTypeCode:
		if cfg, err := schema.CodeConfigOf(n); err == nil {
			return cfg.Language
		}
	case schema.NodeTypeEnd:
		if cfg, err := schema.EndConfigOf(n); err == nil {
			return "output " + cfg.OutputKey
		}
	}
	return ""
}

// edgeLabel returns the source handle, or "body" for the edge a loop drives.
func edgeLabel(idx *graph.Index, e schema.Edge) string {
	if e.SourceHandle != "" {
		return e.SourceHandle
	}
	src, _ := idx.Node(e.Source)
	if src.Type == schema.NodeTypeLoop {
		if next := idx.Next(src.ID); len(next) > 0 && next[0] == e.Target {
			return "body"
		}
	}
	return ""
}

// computeLevels assigns each node its breadth-first depth from the start
// node. Nodes the walk never reaches share a final level.
func computeLevels(idx *graph.Index) [][]string {
	depth := make(map[string]int, idx.Len())
	var levels [][]string

	if start, err := idx.FindStart(); err == nil {
		depth[start] = 0
		queue := []string{start}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			d := depth[id]
			for len(levels) <= d {
				levels = append(levels, nil)
			}
			levels[d] = append(levels[d], id)
			for _, next := range idx.Next(id) {
				if _, seen := depth[next]; seen {
					continue
				}
				if _, err := idx.Node(next); err != nil {
					continue
				}
				depth[next] = d + 1
				queue = append(queue, next)
			}
		}
	}

	var orphans []string
	for _, id := range idx.NodeIDs() {
		if _, ok := depth[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return levels
}

// applyRunLog marks every node the run entered. A node with an error entry
// is failed; any other entered node is completed.
func applyRunLog(model *DiagramModel, runLog []schema.LogEntry) {
	for _, entry := range runLog {
		if entry.NodeID == "" {
			continue
		}
		node := model.Node(entry.NodeID)
		if node == nil {
			continue
		}
		if node.Status == nil {
			node.Status = &StatusOverlay{Status: StatusCompleted}
		}
		if entry.Level == schema.LogLevelInfo && strings.HasPrefix(entry.Message, engine.NodeStartPrefix) {
			node.Status.Visits++
		}
		if entry.Level == schema.LogLevelError {
			node.Status.Status = StatusFailed
			node.Status.Error = entry.Message
		}
	}
}
