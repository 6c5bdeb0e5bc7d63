package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func TestValidateToolInputs(t *testing.T) {
	def := &schema.ToolDefinition{
		ID:   "greet",
		Name: "Greet",
		Code: "x",
		Parameters: []schema.ParameterSpec{
			{Name: "name", Type: "string", Required: true},
			{Name: "times", Type: "number"},
			{Name: "extra", Type: "any"},
			{Name: "loose"},
		},
	}

	tests := []struct {
		name    string
		inputs  map[string]any
		wantErr bool
	}{
		{"required only", map[string]any{"name": "ada"}, false},
		{"all declared", map[string]any{"name": "ada", "times": 2.0, "extra": []any{1.0}, "loose": true}, false},
		{"undeclared passes", map[string]any{"name": "ada", "color": "red"}, false},
		{"missing required", map[string]any{"times": 1.0}, true},
		{"nil inputs", nil, true},
		{"wrong type", map[string]any{"name": "ada", "times": "twice"}, true},
		{"unresolved placeholder", map[string]any{"name": "ada", "times": "{{n}}"}, true},
	}
	v := newJSV(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateToolInputs(def, tt.inputs)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			fe := requireValidationError(t, err)
			assert.Contains(t, fe.Message, "tool greet inputs:")
		})
	}
}

func TestValidateToolInputs_NoParameters(t *testing.T) {
	v := newJSV(t)
	assert.NoError(t, v.ValidateToolInputs(nil, map[string]any{"a": 1}))
	assert.NoError(t, v.ValidateToolInputs(&schema.ToolDefinition{ID: "x"}, nil))
}

func TestParameterSchema_Deterministic(t *testing.T) {
	params := []schema.ParameterSpec{
		{Name: "b", Type: "number", Required: true},
		{Name: "a", Type: "string"},
	}
	first, err := parameterSchema(params)
	require.NoError(t, err)
	second, err := parameterSchema(params)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.JSONEq(t, `{
		"type": "object",
		"properties": {"a": {"type": "string"}, "b": {"type": "number"}},
		"required": ["b"]
	}`, string(first))
}
