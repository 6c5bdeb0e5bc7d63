package scripting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

// jsScript is a compiled JavaScript body. The script either defines
// execute(inputs, context) or assigns the global result.
type jsScript struct {
	program *goja.Program
}

func compileJS(code string) (*jsScript, error) {
	prg, err := goja.Compile("script.js", code, false)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidConfig, "javascript does not compile: %v", err).WithCause(err)
	}
	return &jsScript{program: prg}, nil
}

// Invoke runs the program on a fresh VM. A goja.Runtime is not goroutine
// safe, so VMs are never shared between invocations.
func (s *jsScript) Invoke(ctx context.Context, inputs, vars map[string]any) (*tools.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, interrupted(err)
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	console := &consoleSink{}
	if err := console.install(vm); err != nil {
		return nil, err
	}
	if err := vm.Set("inputs", schema.DeepCopyMap(inputs)); err != nil {
		return nil, err
	}
	if err := vm.Set("context", schema.DeepCopyMap(vars)); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	value, err := s.run(vm)
	if err != nil {
		return nil, jsError(ctx, err, console.lines())
	}

	delta, err := exportContext(vm.Get("context"))
	if err != nil {
		return nil, err
	}

	return &tools.Result{
		Value:       value,
		Context:     delta,
		Diagnostics: console.lines(),
	}, nil
}

func (s *jsScript) run(vm *goja.Runtime) (any, error) {
	if _, err := vm.RunProgram(s.program); err != nil {
		return nil, err
	}

	if fn, ok := goja.AssertFunction(vm.Get("execute")); ok {
		ret, err := fn(goja.Undefined(), vm.Get("inputs"), vm.Get("context"))
		if err != nil {
			return nil, err
		}
		return exportValue(ret)
	}
	return exportValue(vm.Get("result"))
}

func exportValue(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	out, err := schema.NormalizeStrict(v.Export())
	if err != nil {
		return nil, withRuntime(err, "js")
	}
	return out, nil
}

func exportContext(v goja.Value) (map[string]any, error) {
	out, err := exportValue(v)
	if err != nil {
		return nil, err
	}
	m, _ := out.(map[string]any)
	return m, nil
}

// withRuntime tags a conversion failure with the runtime that produced it.
func withRuntime(err error, runtime string) error {
	if fe, ok := schema.AsFlowError(err); ok {
		return fe.WithDetails(map[string]any{"runtime": runtime})
	}
	return err
}

func jsError(ctx context.Context, err error, diagnostics []string) error {
	var interrupt *goja.InterruptedError
	if errors.As(err, &interrupt) {
		return interrupted(ctx.Err())
	}

	if fe, ok := schema.AsFlowError(err); ok {
		return fe
	}

	msg := err.Error()
	var ex *goja.Exception
	if errors.As(err, &ex) {
		msg = ex.Error()
	}
	details := map[string]any{"runtime": "js"}
	if len(diagnostics) > 0 {
		details["console"] = diagnostics
	}
	return schema.NewErrorf(schema.ErrCodeStepFailed, "script error: %s", msg).
		WithCause(err).
		WithDetails(details)
}

// interrupted maps a context error to CANCELLED or TIMEOUT_ERROR.
func interrupted(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, "script timed out").WithCause(err)
	}
	return schema.NewError(schema.ErrCodeCancelled, "script cancelled").WithCause(err)
}

// consoleSink captures console.* calls as diagnostics.
type consoleSink struct {
	mu   sync.Mutex
	logs []string
}

func (c *consoleSink) install(vm *goja.Runtime) error {
	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		tag := strings.ToUpper(level)
		if err := console.Set(level, func(call goja.FunctionCall) goja.Value {
			c.append(tag, call.Arguments)
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

func (c *consoleSink) append(level string, args []goja.Value) {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = formatJSValue(arg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, fmt.Sprintf("[%s] %s", level, strings.Join(parts, " ")))
}

func (c *consoleSink) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.logs) == 0 {
		return nil
	}
	out := make([]string, len(c.logs))
	copy(out, c.logs)
	return out
}

func formatJSValue(val goja.Value) string {
	if val == nil || goja.IsUndefined(val) {
		return "undefined"
	}
	if goja.IsNull(val) {
		return "null"
	}

	switch v := val.Export().(type) {
	case string:
		return v
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return val.String()
	}
}
