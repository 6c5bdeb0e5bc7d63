package validation

import (
	"context"
	"fmt"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

// validateSemantic performs semantic analysis on the workflow definition.
// Checks: unique node IDs, known node types, typed configs decode, tool
// references resolve, conditions parse, code compiles, edge endpoints exist.
// lookup and compiler may be nil to skip the corresponding checks.
func validateSemantic(ctx context.Context, wf *schema.Workflow, lookup tools.Lookup, compiler tools.Compiler) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(wf.Nodes))
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)
		if nodeIDs[n.ID] {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", n.ID))
		}
		nodeIDs[n.ID] = true
		validateNodeSemantic(ctx, n, path, lookup, compiler, result)
	}

	for i, e := range wf.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if !nodeIDs[e.Source] {
			result.AddError(path+".source", schema.ErrCodeNodeNotFound,
				fmt.Sprintf("references non-existent node %q", e.Source))
		}
		if !nodeIDs[e.Target] {
			result.AddError(path+".target", schema.ErrCodeNodeNotFound,
				fmt.Sprintf("references non-existent node %q", e.Target))
		}
	}

	return result
}

// validateNodeSemantic checks a single node's type and config.
func validateNodeSemantic(ctx context.Context, n *schema.Node, path string, lookup tools.Lookup, compiler tools.Compiler, result *schema.ValidationResult) {
	if !n.Type.Valid() {
		result.AddError(path+".type", schema.ErrCodeUnknownNodeType,
			fmt.Sprintf("unknown node type %q", n.Type))
		return
	}

	var err error
	switch n.Type {
	case schema.NodeTypeEnd:
		_, err = schema.EndConfigOf(n)
	case schema.NodeTypeCondition:
		var cfg schema.ConditionConfig
		if cfg, err = schema.ConditionConfigOf(n); err != nil {
			break
		}
		if cerr := expressions.CheckCondition(cfg.Condition); cerr != nil {
			addIssue(result, path+".config.condition", cerr, schema.ErrCodeInvalidExpression)
		}
	case schema.NodeTypeLoop:
		var cfg schema.LoopConfig
		if cfg, err = schema.LoopConfigOf(n); err != nil {
			break
		}
		if cfg.LoopType == schema.LoopTypeWhile {
			if cerr := expressions.CheckCondition(cfg.Condition); cerr != nil {
				addIssue(result, path+".config.condition", cerr, schema.ErrCodeInvalidExpression)
			}
		}
	case schema.NodeTypeTool:
		var cfg schema.ToolConfig
		if cfg, err = schema.ToolConfigOf(n); err != nil {
			break
		}
		if cfg.ToolID == "" {
			result.AddError(path+".tool_id", schema.ErrCodeMissingToolReference,
				"tool node has no tool reference")
			return
		}
		if lookup != nil {
			if _, lerr := lookup.Lookup(ctx, cfg.ToolID); lerr != nil {
				addIssue(result, path+".tool_id", lerr, schema.ErrCodeToolNotFound)
			}
		}
	case schema.NodeTypeCode:
		var cfg schema.CodeConfig
		if cfg, err = schema.CodeConfigOf(n); err != nil {
			break
		}
		if compiler != nil {
			if _, cerr := compiler.Compile(cfg.Language, cfg.Code); cerr != nil {
				addIssue(result, path+".config.code", cerr, schema.ErrCodeInvalidConfig)
			}
		}
	}
	if err != nil {
		addIssue(result, path+".config", err, schema.ErrCodeInvalidConfig)
	}
}

// addIssue records err as an error issue, keeping its FlowError code when it has one.
func addIssue(result *schema.ValidationResult, path string, err error, fallback string) {
	code, msg := fallback, err.Error()
	if fe, ok := schema.AsFlowError(err); ok {
		code, msg = fe.Code, fe.Message
	}
	result.AddError(path, code, msg)
}
