package validation

import (
	"context"
	"fmt"

	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node types, configs, tool refs, edge endpoints)
// 3. Graph (start node, reachability, branch handles, cycles)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	tools      tools.Lookup
	compiler   tools.Compiler
}

// NewWorkflowValidator creates a WorkflowValidator.
// lookup may be nil to skip tool existence checks; compiler may be nil to
// skip compiling code nodes and tool bodies.
func NewWorkflowValidator(lookup tools.Lookup, compiler tools.Compiler) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		tools:      lookup,
		compiler:   compiler,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit the later stages.
func (wv *WorkflowValidator) Validate(ctx context.Context, wf *schema.Workflow) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return r
	}

	result := structural(wv.jsonSchema.ValidateWorkflow(wf))
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(ctx, wf, wv.tools, wv.compiler))
	result.Merge(validateGraph(wf))
	return result
}

// ValidateWorkflow satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	return wv.Validate(ctx, wf).ToError()
}

// CheckRunnable runs the checks that must hold before a walk can start:
// structural shape and known node types. Tool existence and the start node
// are left to the engine so that those failures end up in the run record.
func (wv *WorkflowValidator) CheckRunnable(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	result := structural(wv.jsonSchema.ValidateWorkflow(wf))
	if !result.Valid() {
		return result.ToError()
	}
	for i := range wf.Nodes {
		if t := wf.Nodes[i].Type; !t.Valid() {
			result.AddError(fmt.Sprintf("nodes[%d].type", i), schema.ErrCodeUnknownNodeType,
				fmt.Sprintf("unknown node type %q", t))
		}
	}
	return result.ToError()
}

// CheckTool runs the structural and semantic tool checks and returns the
// aggregated result.
func (wv *WorkflowValidator) CheckTool(def *schema.ToolDefinition) *schema.ValidationResult {
	result := structural(wv.jsonSchema.ValidateTool(def))
	if !result.Valid() {
		return result
	}

	var compile func(runtime, code string) error
	if wv.compiler != nil {
		compile = func(runtime, code string) error {
			_, err := wv.compiler.Compile(runtime, code)
			return err
		}
	}
	result.Merge(validateToolSemantic(def, compile))
	return result
}

// ValidateTool satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateTool(def *schema.ToolDefinition) error {
	return wv.CheckTool(def).ToError()
}

// ValidateToolInputs delegates to the underlying JSONSchemaValidator. Its
// signature matches engine.InputValidator.
func (wv *WorkflowValidator) ValidateToolInputs(def *schema.ToolDefinition, inputs map[string]any) error {
	return wv.jsonSchema.ValidateToolInputs(def, inputs)
}

// structural converts a JSON Schema validation error into a ValidationResult,
// one issue per violation.
func structural(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	fe, ok := schema.AsFlowError(err)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}
