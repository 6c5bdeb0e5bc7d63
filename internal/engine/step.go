package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

// StepOutcome is what a node hands back to the traversal.
type StepOutcome struct {
	Value any
	// Next, when set, names the node to continue with instead of the
	// first outgoing edge.
	Next string
	// Stop ends the walk at this node with Value as the result.
	Stop bool
}

// stepFunc executes one node type against the run's live context.
type stepFunc func(ctx context.Context, r *workflowRun, node *schema.Node) (StepOutcome, error)

func stepStart(_ context.Context, r *workflowRun, _ *schema.Node) (StepOutcome, error) {
	return StepOutcome{Value: r.vars.Snapshot()}, nil
}

func stepEnd(_ context.Context, r *workflowRun, node *schema.Node) (StepOutcome, error) {
	cfg, err := schema.EndConfigOf(node)
	if err != nil {
		return StepOutcome{}, err
	}
	if v, ok := r.vars.Lookup(cfg.OutputKey); ok {
		return StepOutcome{Value: v}, nil
	}
	return StepOutcome{Value: r.vars.Snapshot()}, nil
}

func stepTool(ctx context.Context, r *workflowRun, node *schema.Node) (StepOutcome, error) {
	cfg, err := schema.ToolConfigOf(node)
	if err != nil {
		return StepOutcome{}, err
	}
	if cfg.ToolID == "" {
		return StepOutcome{}, schema.NewError(schema.ErrCodeMissingToolReference, "tool node has no tool_id").
			WithNode(node.ID)
	}

	tool, err := r.resolveTool(ctx, cfg.ToolID)
	if err != nil {
		return StepOutcome{}, err
	}

	inputs := schema.DeepCopyMap(expressions.SubstituteMap(cfg.Inputs, r.vars.view()))
	if r.e.config.ValidateInputs && r.e.validate != nil && tool.Definition != nil {
		if err := r.e.validate(tool.Definition, inputs); err != nil {
			return StepOutcome{}, err
		}
	}

	res, err := r.invoke(ctx, tool.Capability, inputs)
	if err != nil {
		return StepOutcome{}, capabilityFailure(err, "tool "+tool.DisplayName())
	}

	// Tools only contribute their value; any context they return is dropped.
	r.vars.Set(cfg.OutputKey, res.Value)
	r.log.Success(ctx, node.ID, fmt.Sprintf("tool %s executed", tool.DisplayName()), strings.Join(res.Diagnostics, "\n"))
	return StepOutcome{Value: r.vars.Get(cfg.OutputKey)}, nil
}

func (r *workflowRun) resolveTool(ctx context.Context, id string) (*tools.Tool, error) {
	if r.e.lookup == nil {
		return nil, tools.NotFound(id)
	}
	tool, err := r.e.lookup.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if tool == nil || tool.Capability == nil {
		return nil, tools.NotFound(id)
	}
	return tool, nil
}

func stepCondition(ctx context.Context, r *workflowRun, node *schema.Node) (StepOutcome, error) {
	cfg, err := schema.ConditionConfigOf(node)
	if err != nil {
		return StepOutcome{}, err
	}

	ok, err := r.e.conditions.Evaluate(ctx, cfg.Condition, r.vars.view())
	if err != nil {
		return StepOutcome{}, err
	}

	handle := "false"
	if ok {
		handle = "true"
	}
	for _, edge := range r.index.Outgoing(node.ID) {
		if edge.SourceHandle == handle {
			r.log.Info(ctx, node.ID, fmt.Sprintf("condition %s = %t, branch %s", cfg.Condition, ok, handle))
			return StepOutcome{Value: ok, Next: edge.Target}, nil
		}
	}

	r.log.Info(ctx, node.ID, fmt.Sprintf("condition %s = %t, no %s branch", cfg.Condition, ok, handle))
	return StepOutcome{Value: ok, Stop: true}, nil
}

// stepLoop runs the node's first successor once per iteration. The body is
// the only thing a loop drives: the walk stops at the loop with the list of
// body results.
func stepLoop(ctx context.Context, r *workflowRun, node *schema.Node) (StepOutcome, error) {
	cfg, err := schema.LoopConfigOf(node)
	if err != nil {
		return StepOutcome{}, err
	}

	var body string
	if next := r.index.Next(node.ID); len(next) > 0 {
		body = next[0]
	}

	results := []any{}
	iterate := func() error {
		if body == "" {
			return nil
		}
		v, err := r.runFrom(ctx, body)
		if err != nil {
			return err
		}
		results = append(results, v)
		return nil
	}

	count := 0
	switch cfg.LoopType {
	case schema.LoopTypeFor:
		items, err := loopItems(node, cfg, r.vars)
		if err != nil {
			return StepOutcome{}, err
		}
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return StepOutcome{}, contextError(err, "loop")
			}
			r.vars.Set(cfg.ItemVar, item)
			r.vars.Set(schema.LoopIndexKey, i)
			if err := iterate(); err != nil {
				return StepOutcome{}, err
			}
			count++
		}

	case schema.LoopTypeWhile:
		for count < cfg.MaxIterations {
			if err := ctx.Err(); err != nil {
				return StepOutcome{}, contextError(err, "loop")
			}
			r.vars.Set(schema.LoopIndexKey, count)
			ok, err := r.e.conditions.Evaluate(ctx, cfg.Condition, r.vars.view())
			if err != nil {
				return StepOutcome{}, err
			}
			if !ok {
				break
			}
			if err := iterate(); err != nil {
				return StepOutcome{}, err
			}
			count++
		}
	}

	r.log.Info(ctx, node.ID, fmt.Sprintf("loop finished after %d iterations", count))
	return StepOutcome{Value: results, Stop: true}, nil
}

// loopItems resolves the collection a for loop walks. A missing or null key
// yields no iterations; strings iterate by character and objects by sorted
// key.
func loopItems(node *schema.Node, cfg schema.LoopConfig, vars *Context) ([]any, error) {
	raw, ok := vars.Lookup(cfg.ItemsKey)
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []any:
		return v, nil
	case string:
		items := make([]any, 0, len(v))
		for _, ch := range v {
			items = append(items, string(ch))
		}
		return items, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]any, len(keys))
		for i, k := range keys {
			items[i] = k
		}
		return items, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInvalidConfig, "%q is not iterable (%T)", cfg.ItemsKey, raw).
			WithNode(node.ID)
	}
}

func stepCode(ctx context.Context, r *workflowRun, node *schema.Node) (StepOutcome, error) {
	cfg, err := schema.CodeConfigOf(node)
	if err != nil {
		return StepOutcome{}, err
	}

	program, err := r.e.program(cfg.Language, cfg.Code)
	if err != nil {
		return StepOutcome{}, err
	}

	inputs := schema.DeepCopyMap(expressions.SubstituteMap(cfg.Inputs, r.vars.view()))
	res, err := r.invoke(ctx, program, inputs)
	if err != nil {
		return StepOutcome{}, capabilityFailure(err, "code node")
	}

	if res.Context != nil {
		r.vars.Merge(res.Context)
	}
	r.vars.Set(cfg.OutputKey, res.Value)
	r.log.Success(ctx, node.ID, "code node executed", strings.Join(res.Diagnostics, "\n"))
	return StepOutcome{Value: r.vars.Get(cfg.OutputKey)}, nil
}

// program compiles a code node body once per language and source.
func (e *executorImpl) program(language, code string) (tools.Capability, error) {
	if e.compiler == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidConfig, "no code runtime configured")
	}
	key := programKey{language: language, code: code}

	e.mu.RLock()
	p, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.programs[key]; ok {
		return p, nil
	}
	p, err := e.compiler.Compile(language, code)
	if err != nil {
		return nil, err
	}
	e.programs[key] = p
	return p, nil
}

// invoke runs a capability on the worker pool with a snapshot of the
// context, bounded by the step timeout.
func (r *workflowRun) invoke(ctx context.Context, c tools.Capability, inputs map[string]any) (*tools.Result, error) {
	stepCtx := ctx
	if d := r.e.config.StepTimeout; d > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	vars := r.vars.Snapshot()
	var res *tools.Result
	err := r.e.pool.Do(stepCtx, func(ctx context.Context) error {
		out, err := c.Invoke(ctx, inputs, vars)
		res = out
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextError(ctxErr, "run")
		}
		if stepCtx.Err() != nil && !schema.IsCode(err, schema.ErrCodeTimeout) {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "step exceeded %s", r.e.config.StepTimeout).WithCause(err)
		}
		if errors.Is(err, ErrPoolShutdown) {
			return nil, schema.NewError(schema.ErrCodeStepFailed, "executor is shut down").WithCause(err)
		}
		return nil, err
	}
	if res == nil {
		res = &tools.Result{}
	}
	return res, nil
}

// capabilityFailure turns an invocation error into the node's failure.
// Timeouts and cancellations keep their code; everything else becomes
// STEP_FAILED carrying the original details.
func capabilityFailure(err error, what string) error {
	fe, ok := schema.AsFlowError(err)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeStepFailed, "%s failed: %v", what, err).WithCause(err)
	}
	switch fe.Code {
	case schema.ErrCodeTimeout, schema.ErrCodeCancelled:
		return fe
	}
	return schema.NewErrorf(schema.ErrCodeStepFailed, "%s failed: %s", what, fe.Message).
		WithCause(err).
		WithDetails(fe.Details)
}
