package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// BuiltinConfig configures the Go-implemented tools.
type BuiltinConfig struct {
	HTTP HTTPConfig
}

// RegisterBuiltins registers all builtin tools in the given registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	all := make([]*Tool, 0, 16)
	all = append(all, httpTools(cfg.HTTP)...)
	all = append(all, cryptoTools()...)
	all = append(all,
		builtin("json.parse", "Parse JSON", "Data", "Parse a JSON string.",
			[]schema.ParameterSpec{{Name: "json_str", Type: "string", Required: true}}, Func(jsonParse)),
		builtin("time.sleep", "Sleep", "Other", "Wait for the given number of seconds.",
			[]schema.ParameterSpec{{Name: "seconds", Type: "number", Required: true}}, Func(sleep)),
	)

	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func builtin(id, name, category, description string, params []schema.ParameterSpec, c Capability) *Tool {
	return &Tool{
		ID:   id,
		Name: name,
		Definition: &schema.ToolDefinition{
			ID:          id,
			Name:        name,
			Description: description,
			Category:    category,
			Runtime:     schema.RuntimeBuiltin,
			Parameters:  params,
		},
		Capability: c,
	}
}

func jsonParse(_ context.Context, inputs map[string]any) (any, error) {
	s, ok := inputs["json_str"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "json.parse requires 'json_str' string input")
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "invalid JSON: %v", err).WithCause(err)
	}
	return v, nil
}

func sleep(ctx context.Context, inputs map[string]any) (any, error) {
	seconds := floatParam(inputs, "seconds", 1)
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return seconds, nil
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeCancelled, "sleep interrupted").WithCause(ctx.Err())
	}
}
