package validation

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/nodeflow/pkg/schema"
)

// ValidateToolInputs checks substituted inputs against the tool's declared
// parameters: required parameters must be present and typed parameters must
// match. Inputs the tool does not declare pass through.
func (v *JSONSchemaValidator) ValidateToolInputs(def *schema.ToolDefinition, inputs map[string]any) error {
	if def == nil || len(def.Parameters) == 0 {
		return nil
	}
	doc, err := parameterSchema(def.Parameters)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "tool %s: invalid parameter declaration", def.ID).WithCause(err)
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	if err := v.ValidateInput(inputs, doc); err != nil {
		fe, ok := schema.AsFlowError(err)
		if !ok {
			return err
		}
		fe.Message = fmt.Sprintf("tool %s inputs: %s", def.ID, fe.Message)
		return fe
	}
	return nil
}

// parameterSchema renders parameter declarations as an object JSON Schema.
// Map keys marshal sorted, so equal declarations produce equal bytes and
// share a cache entry.
func parameterSchema(params []schema.ParameterSpec) ([]byte, error) {
	props := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]any{}
		switch p.Type {
		case "", "any":
		default:
			prop["type"] = p.Type
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}

// validateToolSemantic checks what the tool schema cannot: unique parameter
// names and, when a compiler is given, that the code compiles.
func validateToolSemantic(def *schema.ToolDefinition, compile func(runtime, code string) error) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	checkNames := func(field string, params []schema.ParameterSpec) {
		seen := make(map[string]bool, len(params))
		for i, p := range params {
			if seen[p.Name] {
				result.AddError(fmt.Sprintf("%s[%d].name", field, i), schema.ErrCodeValidation,
					fmt.Sprintf("duplicate %s name %q", field, p.Name))
			}
			seen[p.Name] = true
		}
	}
	checkNames("parameters", def.Parameters)
	checkNames("outputs", def.Outputs)

	if compile != nil {
		if err := compile(def.EffectiveRuntime(), def.Code); err != nil {
			addIssue(result, "code", err, schema.ErrCodeInvalidConfig)
		}
	}
	return result
}
