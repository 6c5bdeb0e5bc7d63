package expressions

import "context"

// Engine evaluates an expression program against a data document.
// Three implementations back the expression tool runtimes: Expr, CEL and GoJQ.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// RuntimeData builds the document an expression tool is evaluated against:
// the tool inputs and a view of the run context.
func RuntimeData(inputs, vars map[string]any) map[string]any {
	if inputs == nil {
		inputs = map[string]any{}
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return map[string]any{
		"inputs":  inputs,
		"context": vars,
	}
}
