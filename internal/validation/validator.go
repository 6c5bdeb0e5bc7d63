package validation

import (
	"context"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Validator checks workflow and tool definitions before they are stored or run.
// Uses JSON Schema Draft 2020-12 for structural and tool input validation.
type Validator interface {
	ValidateWorkflow(ctx context.Context, wf *schema.Workflow) error
	ValidateTool(def *schema.ToolDefinition) error
	ValidateToolInputs(def *schema.ToolDefinition, inputs map[string]any) error
}
