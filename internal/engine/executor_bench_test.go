package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

func BenchmarkExecute_ForLoop(b *testing.B) {
	reg := tools.NewRegistry()
	_ = reg.RegisterFunc("double", "Double", func(_ context.Context, in map[string]any) (any, error) {
		n, _ := in["n"].(float64)
		return n * 2, nil
	})

	for _, size := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("items=%d", size), func(b *testing.B) {
			e := NewExecutor(reg, nil, ExecutorConfig{Logger: logging.NewNop()})
			defer e.Close()

			items := make([]any, size)
			for i := range items {
				items[i] = float64(i)
			}
			wf := loopWorkflow(nil, node("d", schema.NodeTypeTool, map[string]any{
				"tool_id": "double", "inputs": map[string]any{"n": "{{item}}"},
			}))
			input := map[string]any{"items": items}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := e.Execute(context.Background(), wf, input); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkWorkerPool_Do(b *testing.B) {
	pool := NewWorkerPool(10)
	defer pool.Shutdown()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pool.Do(ctx, func(context.Context) error { return nil })
	}
}
