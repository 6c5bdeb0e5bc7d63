package tools

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Capability is an executable unit invoked by tool and code nodes.
// inputs are the node's substituted inputs; vars is a copy of the run
// context that the capability may read and modify freely.
type Capability interface {
	Invoke(ctx context.Context, inputs, vars map[string]any) (*Result, error)
}

// Result is what a capability hands back to the engine.
type Result struct {
	// Value is stored at the node's output key.
	Value any
	// Context, when non-nil, is the capability's view of the run context
	// after it ran. Code nodes merge it back per key; tool nodes ignore it.
	Context map[string]any
	// Diagnostics are free-form lines (console output, stderr) recorded
	// alongside the run log entry.
	Diagnostics []string
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc func(ctx context.Context, inputs, vars map[string]any) (*Result, error)

// Invoke calls f.
func (f CapabilityFunc) Invoke(ctx context.Context, inputs, vars map[string]any) (*Result, error) {
	return f(ctx, inputs, vars)
}

// Func adapts a plain Go function that only needs the inputs.
func Func(fn func(ctx context.Context, inputs map[string]any) (any, error)) Capability {
	return CapabilityFunc(func(ctx context.Context, inputs, _ map[string]any) (*Result, error) {
		v, err := fn(ctx, inputs)
		if err != nil {
			return nil, err
		}
		return &Result{Value: v}, nil
	})
}

// Tool is a resolved Step Capability: its catalogue entry plus the compiled
// executable unit.
type Tool struct {
	ID         string
	Name       string
	Definition *schema.ToolDefinition
	Capability Capability
}

// DisplayName returns the tool name, falling back to its ID.
func (t *Tool) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

// Lookup resolves tools by ID. A miss returns a TOOL_NOT_FOUND FlowError.
// Implementations must be safe for concurrent use by independent runs.
type Lookup interface {
	Lookup(ctx context.Context, id string) (*Tool, error)
}

// Compiler turns a script body into a Capability for the given runtime.
type Compiler interface {
	Compile(runtime, code string) (Capability, error)
}

// NotFound builds the error returned by Lookup implementations on a miss.
func NotFound(id string) error {
	return schema.NewErrorf(schema.ErrCodeToolNotFound, "tool %q not found", id).
		WithDetails(map[string]any{"tool_id": id})
}

// chain tries each Lookup in order.
type chain []Lookup

// Chain returns a Lookup that consults each lookup in order and returns the
// first hit. Errors other than TOOL_NOT_FOUND stop the search.
func Chain(lookups ...Lookup) Lookup {
	return chain(lookups)
}

func (c chain) Lookup(ctx context.Context, id string) (*Tool, error) {
	for _, l := range c {
		t, err := l.Lookup(ctx, id)
		if err == nil {
			return t, nil
		}
		if !schema.IsCode(err, schema.ErrCodeToolNotFound) {
			return nil, err
		}
	}
	return nil, NotFound(id)
}

// WithTimeout bounds every invocation of c by d. A zero d returns c unchanged.
func WithTimeout(c Capability, d time.Duration) Capability {
	if d <= 0 {
		return c
	}
	return CapabilityFunc(func(ctx context.Context, inputs, vars map[string]any) (*Result, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		res, err := c.Invoke(ctx, inputs, vars)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !schema.IsCode(err, schema.ErrCodeTimeout) {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "invocation exceeded %s", d).WithCause(err)
		}
		return res, err
	})
}
