package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rendis/nodeflow/pkg/schema"
)

// branchingLoop doubles every item above threshold and echoes the rest.
func branchingLoop(threshold int) *schema.Workflow {
	return &schema.Workflow{
		ID:   "prop",
		Name: "branching loop",
		Nodes: []schema.Node{
			node("s", schema.NodeTypeStart, nil),
			node("l", schema.NodeTypeLoop, nil),
			node("c", schema.NodeTypeCondition, map[string]any{"condition": fmt.Sprintf("{{item}} > %d", threshold)}),
			node("big", schema.NodeTypeTool, map[string]any{"tool_id": "double", "inputs": map[string]any{"n": "{{item}}"}}),
			node("small", schema.NodeTypeTool, map[string]any{"tool_id": "echo", "inputs": map[string]any{"v": "{{item}}"}}),
		},
		Edges: []schema.Edge{
			edge("s", "l"),
			edge("l", "c"),
			branch("c", "big", "true"),
			branch("c", "small", "false"),
		},
	}
}

func TestExecute_Idempotent(t *testing.T) {
	e := newTestExecutor(t, testRegistry(t), ExecutorConfig{})

	rapid.Check(t, func(rt *rapid.T) {
		items := rapid.SliceOfN(rapid.IntRange(-50, 50), 0, 8).Draw(rt, "items")
		threshold := rapid.IntRange(-50, 50).Draw(rt, "threshold")

		input := map[string]any{"items": items}
		wf := branchingLoop(threshold)

		first, err := e.Execute(context.Background(), wf, input)
		require.NoError(rt, err)
		second, err := e.Execute(context.Background(), wf, input)
		require.NoError(rt, err)

		require.Equal(rt, first.Output, second.Output)
		require.Equal(rt, first.Messages(), second.Messages())
		require.Equal(rt, first.Context, second.Context)
		require.Len(rt, first.Output, len(items))
	})
}

func TestLoop_WhileNeverExceedsMax(t *testing.T) {
	e := newTestExecutor(t, testRegistry(t), ExecutorConfig{})

	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(0, 20).Draw(rt, "limit")
		maxIter := rapid.IntRange(0, 20).Draw(rt, "max")

		body := node("d", schema.NodeTypeTool, map[string]any{"tool_id": "double", "inputs": map[string]any{"n": "{{loop_index}}"}})
		wf := loopWorkflow(map[string]any{
			"loop_type":      "while",
			"condition":      fmt.Sprintf("{{loop_index}} < %d", limit),
			"max_iterations": maxIter,
		}, body)

		res, err := e.Execute(context.Background(), wf, nil)
		require.NoError(rt, err)

		want := min(limit, maxIter)
		require.Len(rt, res.Output, want)
		require.Contains(rt, res.Messages(), fmt.Sprintf("loop finished after %d iterations", want))
	})
}
