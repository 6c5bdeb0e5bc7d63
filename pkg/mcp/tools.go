package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// handleRun executes a stored workflow or an inline definition.
func (s *NodeflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input := mcp.ParseStringMap(req, "input", nil)

	var (
		result *schema.ExecutionResult
		runErr error
	)
	if workflowID := req.GetString("workflow_id", ""); workflowID != "" {
		result, runErr = s.runner.Run(ctx, workflowID, input)
	} else {
		wf, errResult := definitionArg(req)
		if errResult != nil {
			return errResult, nil
		}
		result, runErr = s.runner.RunDefinition(ctx, wf, input)
	}

	if result == nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow run failed: %v", runErr)), nil
	}
	if err := s.notifier.RunFinished(ctx, result); err != nil {
		s.logger.WarnContext(ctx, "run notification failed", slog.String("error", err.Error()))
	}

	res, err := marshalResult(result)
	if err == nil && res != nil && runErr != nil {
		res.IsError = true
	}
	return res, err
}

// handleValidate reports every issue of a definition without running it.
func (s *NodeflowServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var wf *schema.Workflow
	if workflowID := req.GetString("workflow_id", ""); workflowID != "" {
		stored, err := s.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
		}
		wf = &stored.Workflow
	} else {
		def, errResult := definitionArg(req)
		if errResult != nil {
			return errResult, nil
		}
		wf = def
	}

	vr := s.validator.Validate(ctx, wf)
	return marshalResult(map[string]any{
		"valid":    vr.Valid(),
		"errors":   vr.Errors,
		"warnings": vr.Warnings,
	})
}

// handleDiagram renders a workflow graph, optionally overlaid with a recorded run.
func (s *NodeflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	var wf *schema.Workflow
	if workflowID := req.GetString("workflow_id", ""); workflowID != "" {
		stored, err := s.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
		}
		wf = &stored.Workflow
	} else {
		def, errResult := definitionArg(req)
		if errResult != nil {
			return errResult, nil
		}
		wf = def
	}

	var runLog []schema.LogEntry
	if execID := req.GetString("execution_id", ""); execID != "" {
		exec, err := s.store.GetExecution(ctx, execID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("execution lookup failed: %v", err)), nil
		}
		runLog = exec.Logs
		if runLog == nil {
			runLog = []schema.LogEntry{}
		}
	}

	model, err := diagram.Build(wf, runLog)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, err := diagram.RenderImage(ctx, model, diagram.ImagePNG)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", err)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// handleQuery lists stored resources.
func (s *NodeflowServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx, filter)
	case "tools":
		return s.queryTools(ctx, filter)
	case "executions":
		return s.queryExecutions(ctx, filter)
	case "logs":
		return s.queryLogs(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// handleExecution returns one execution with its run log.
func (s *NodeflowServer) handleExecution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("execution lookup failed: %v", err)), nil
	}

	since := int64(req.GetFloat("since", 0))
	if since > 0 {
		logs, err := s.store.GetExecutionLogs(ctx, id, since)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("log query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"execution": withoutLogs(exec), "logs": logs})
	}
	return marshalResult(map[string]any{"execution": exec})
}

// --- Query helpers ---

func (s *NodeflowServer) queryWorkflows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	workflows, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	summaries := make([]map[string]any, 0, len(workflows))
	for _, wf := range workflows {
		summaries = append(summaries, map[string]any{
			"id":          wf.ID,
			"name":        wf.Name,
			"description": wf.Description,
			"nodes":       len(wf.Nodes),
			"updated_at":  wf.UpdatedAt,
		})
	}
	return marshalResult(map[string]any{"workflows": summaries})
}

func (s *NodeflowServer) queryTools(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	tf := store.ToolFilter{Limit: extractInt(filter, "limit", 100)}
	if category, ok := filter["category"].(string); ok {
		tf.Category = category
	}

	defs, err := s.store.ListTools(ctx, tf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"tools": defs})
}

func (s *NodeflowServer) queryExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.ExecutionFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
		Since:  extractTime(filter, "since"),
	}
	if wfID, ok := filter["workflow_id"].(string); ok {
		ef.WorkflowID = wfID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		es := schema.ExecutionStatus(status)
		ef.Status = &es
	}

	execs, err := s.store.ListExecutions(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"executions": execs})
}

func (s *NodeflowServer) queryLogs(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	lf := store.LogFilter{
		Limit: extractInt(filter, "limit", 100),
		Since: extractTime(filter, "since"),
	}
	if wfID, ok := filter["workflow_id"].(string); ok {
		lf.WorkflowID = wfID
	}
	if nodeID, ok := filter["node_id"].(string); ok {
		lf.NodeID = nodeID
	}
	if level, ok := filter["level"].(string); ok {
		lf.Level = schema.LogLevel(level)
	}

	logs, err := s.store.ListLogs(ctx, lf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"logs": logs})
}

// --- Internal helpers ---

// definitionArg decodes the "definition" argument into a workflow. The
// second return is a ready tool error when the argument is unusable.
func definitionArg(req mcp.CallToolRequest) (*schema.Workflow, *mcp.CallToolResult) {
	raw := mcp.ParseStringMap(req, "definition", nil)
	if raw == nil {
		return nil, mcp.NewToolResultError("either workflow_id or definition is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err))
	}
	var wf schema.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err))
	}
	return &wf, nil
}

func withoutLogs(exec *store.Execution) *store.Execution {
	cp := *exec
	cp.Logs = nil
	return &cp
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// extractTime reads an RFC 3339 timestamp from a filter map.
func extractTime(filter map[string]any, key string) *time.Time {
	s, ok := filter[key].(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
