package scripting

import (
	"context"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

// expressionProgram evaluates an expr, CEL or jq program against
// {inputs, context}. Expressions cannot modify the context.
type expressionProgram struct {
	engine  expressions.Engine
	program string
}

func (p *expressionProgram) Invoke(ctx context.Context, inputs, vars map[string]any) (*tools.Result, error) {
	out, err := p.engine.Evaluate(ctx, p.program, expressions.RuntimeData(inputs, vars))
	if err != nil {
		return nil, err
	}
	return &tools.Result{Value: schema.Normalize(out)}, nil
}
