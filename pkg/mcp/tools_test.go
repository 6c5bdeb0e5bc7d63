package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// --- Mock Store ---

type mockStore struct {
	store.Store // embed for unimplemented methods

	workflows  []*store.Workflow
	tools      []*schema.ToolDefinition
	executions []*store.Execution
	logs       []*store.LogRecord

	lastExecFilter store.ExecutionFilter
	lastLogFilter  store.LogFilter
}

func (m *mockStore) GetWorkflow(_ context.Context, id string) (*store.Workflow, error) {
	for _, wf := range m.workflows {
		if wf.ID == id {
			return wf, nil
		}
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "workflow not found")
}

func (m *mockStore) ListWorkflows(_ context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	result := m.workflows
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) ListTools(_ context.Context, filter store.ToolFilter) ([]*schema.ToolDefinition, error) {
	result := make([]*schema.ToolDefinition, 0)
	for _, d := range m.tools {
		if filter.Category != "" && d.Category != filter.Category {
			continue
		}
		result = append(result, d)
	}
	return result, nil
}

func (m *mockStore) ListExecutions(_ context.Context, filter store.ExecutionFilter) ([]*store.Execution, error) {
	m.lastExecFilter = filter
	result := make([]*store.Execution, 0)
	for _, e := range m.executions {
		if filter.WorkflowID != "" && e.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (m *mockStore) GetExecution(_ context.Context, id string) (*store.Execution, error) {
	for _, e := range m.executions {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "execution not found")
}

func (m *mockStore) GetExecutionLogs(_ context.Context, id string, since int64) ([]*store.LogRecord, error) {
	result := make([]*store.LogRecord, 0)
	for _, l := range m.logs {
		if l.ExecutionID == id && l.Sequence > since {
			result = append(result, l)
		}
	}
	return result, nil
}

func (m *mockStore) ListLogs(_ context.Context, filter store.LogFilter) ([]*store.LogRecord, error) {
	m.lastLogFilter = filter
	return m.logs, nil
}

// --- Mock Runner ---

type mockRunner struct {
	result   *schema.ExecutionResult
	err      error
	ranID    string
	ranDef   *schema.Workflow
	ranInput map[string]any
}

func (m *mockRunner) Run(_ context.Context, workflowID string, input map[string]any) (*schema.ExecutionResult, error) {
	m.ranID = workflowID
	m.ranInput = input
	return m.result, m.err
}

func (m *mockRunner) RunDefinition(_ context.Context, wf *schema.Workflow, input map[string]any) (*schema.ExecutionResult, error) {
	m.ranDef = wf
	m.ranInput = input
	return m.result, m.err
}

// --- Mock Validator ---

type mockValidator struct {
	seen *schema.Workflow
}

func (m *mockValidator) Validate(_ context.Context, wf *schema.Workflow) *schema.ValidationResult {
	m.seen = wf
	vr := &schema.ValidationResult{}
	if len(wf.Nodes) == 0 {
		vr.AddError("nodes", schema.ErrCodeNoStartNode, "workflow has no start node")
	}
	vr.AddWarning("nodes[x]", schema.ErrCodeValidation, "node \"x\" is unreachable from the start node")
	return vr
}

// --- Mock Notifier ---

type recordingNotifier struct {
	results []*schema.ExecutionResult
}

func (n *recordingNotifier) RunFinished(_ context.Context, res *schema.ExecutionResult) error {
	n.results = append(n.results, res)
	return nil
}

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func completedResult() *schema.ExecutionResult {
	now := time.Now().UTC()
	return &schema.ExecutionResult{
		RunID:       "run-1",
		WorkflowID:  "wf-1",
		Status:      schema.ExecutionStatusCompleted,
		Output:      "done",
		Context:     map[string]any{"result": "done"},
		StartedAt:   now,
		CompletedAt: now,
	}
}

// --- Tests ---

func TestRunTool_StoredWorkflow(t *testing.T) {
	runner := &mockRunner{result: completedResult()}
	notifier := &recordingNotifier{}
	s := NewNodeflowServer(ServerDeps{Runner: runner, Notifier: notifier})

	req := buildRequest("nodeflow.run", map[string]any{
		"workflow_id": "wf-1",
		"input":       map[string]any{"name": "ada"},
	})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	assert.Equal(t, "wf-1", runner.ranID)
	assert.Equal(t, map[string]any{"name": "ada"}, runner.ranInput)
	require.Len(t, notifier.results, 1)

	var got schema.ExecutionResult
	unmarshalResult(t, result, &got)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "done", got.Output)
}

func TestRunTool_InlineDefinition(t *testing.T) {
	runner := &mockRunner{result: completedResult()}
	s := NewNodeflowServer(ServerDeps{Runner: runner, Notifier: &recordingNotifier{}})

	req := buildRequest("nodeflow.run", map[string]any{
		"definition": map[string]any{
			"id": "inline",
			"nodes": []any{
				map[string]any{"id": "s", "type": "start"},
				map[string]any{"id": "e", "type": "custom", "data": map[string]any{"type": "end", "config": map[string]any{"output_key": "x"}}},
			},
			"edges": []any{map[string]any{"id": "e1", "source": "s", "target": "e"}},
		},
	})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.NotNil(t, runner.ranDef)
	assert.Equal(t, "inline", runner.ranDef.ID)
	require.Len(t, runner.ranDef.Nodes, 2)
	assert.Equal(t, schema.NodeTypeEnd, runner.ranDef.Nodes[1].Type)
}

func TestRunTool_FailedRunCarriesResult(t *testing.T) {
	failed := completedResult()
	failed.Status = schema.ExecutionStatusFailed
	failed.Error = schema.NewError(schema.ErrCodeStepFailed, "tool failed").WithNode("t")
	runner := &mockRunner{result: failed, err: failed.Error}
	s := NewNodeflowServer(ServerDeps{Runner: runner, Notifier: &recordingNotifier{}})

	result, err := s.handleRun(context.Background(), buildRequest("nodeflow.run", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	var got schema.ExecutionResult
	unmarshalResult(t, result, &got)
	assert.Equal(t, schema.ExecutionStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, schema.ErrCodeStepFailed, got.Error.Code)
	assert.Equal(t, "t", got.Error.NodeID)
}

func TestRunTool_NoResult(t *testing.T) {
	runner := &mockRunner{err: schema.NewError(schema.ErrCodeNotFound, "workflow not found")}
	notifier := &recordingNotifier{}
	s := NewNodeflowServer(ServerDeps{Runner: runner, Notifier: notifier})

	result, err := s.handleRun(context.Background(), buildRequest("nodeflow.run", map[string]any{"workflow_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "workflow not found")
	assert.Empty(t, notifier.results)
}

func TestRunTool_MissingParams(t *testing.T) {
	s := NewNodeflowServer(ServerDeps{Runner: &mockRunner{}})

	result, err := s.handleRun(context.Background(), buildRequest("nodeflow.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "workflow_id or definition")
}

func TestValidateTool(t *testing.T) {
	ms := &mockStore{workflows: []*store.Workflow{{Workflow: schema.Workflow{ID: "wf-1", Nodes: []schema.Node{{ID: "s", Type: schema.NodeTypeStart}}}}}}
	v := &mockValidator{}
	s := NewNodeflowServer(ServerDeps{Store: ms, Validator: v})

	t.Run("stored", func(t *testing.T) {
		result, err := s.handleValidate(context.Background(), buildRequest("nodeflow.validate", map[string]any{"workflow_id": "wf-1"}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var got struct {
			Valid    bool                     `json:"valid"`
			Warnings []schema.ValidationIssue `json:"warnings"`
		}
		unmarshalResult(t, result, &got)
		assert.True(t, got.Valid)
		require.Len(t, got.Warnings, 1)
		assert.Equal(t, "wf-1", v.seen.ID)
	})

	t.Run("inline invalid", func(t *testing.T) {
		result, err := s.handleValidate(context.Background(), buildRequest("nodeflow.validate", map[string]any{
			"definition": map[string]any{"id": "empty"},
		}))
		require.NoError(t, err)

		var got struct {
			Valid  bool                     `json:"valid"`
			Errors []schema.ValidationIssue `json:"errors"`
		}
		unmarshalResult(t, result, &got)
		assert.False(t, got.Valid)
		require.Len(t, got.Errors, 1)
		assert.Equal(t, schema.ErrCodeNoStartNode, got.Errors[0].Code)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		result, err := s.handleValidate(context.Background(), buildRequest("nodeflow.validate", map[string]any{"workflow_id": "nope"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})
}

func TestQueryTool_Workflows(t *testing.T) {
	ms := &mockStore{workflows: []*store.Workflow{
		{Workflow: schema.Workflow{ID: "a", Name: "A", Nodes: []schema.Node{{ID: "s"}, {ID: "e"}}}},
		{Workflow: schema.Workflow{ID: "b", Name: "B"}},
	}}
	s := NewNodeflowServer(ServerDeps{Store: ms})

	result, err := s.handleQuery(context.Background(), buildRequest("nodeflow.query", map[string]any{"resource": "workflows"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var got struct {
		Workflows []struct {
			ID    string `json:"id"`
			Nodes int    `json:"nodes"`
		} `json:"workflows"`
	}
	unmarshalResult(t, result, &got)
	require.Len(t, got.Workflows, 2)
	assert.Equal(t, "a", got.Workflows[0].ID)
	assert.Equal(t, 2, got.Workflows[0].Nodes)
}

func TestQueryTool_ToolsByCategory(t *testing.T) {
	ms := &mockStore{tools: []*schema.ToolDefinition{
		{ID: "upper", Name: "Upper", Category: "Text"},
		{ID: "fetch", Name: "Fetch", Category: "Network"},
	}}
	s := NewNodeflowServer(ServerDeps{Store: ms})

	result, err := s.handleQuery(context.Background(), buildRequest("nodeflow.query", map[string]any{
		"resource": "tools",
		"filter":   map[string]any{"category": "Text"},
	}))
	require.NoError(t, err)

	var got struct {
		Tools []schema.ToolDefinition `json:"tools"`
	}
	unmarshalResult(t, result, &got)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "upper", got.Tools[0].ID)
}

func TestQueryTool_ExecutionsFilter(t *testing.T) {
	ms := &mockStore{executions: []*store.Execution{
		{ID: "x1", WorkflowID: "wf-1", Status: schema.ExecutionStatusCompleted},
		{ID: "x2", WorkflowID: "wf-1", Status: schema.ExecutionStatusFailed},
		{ID: "x3", WorkflowID: "wf-2", Status: schema.ExecutionStatusCompleted},
	}}
	s := NewNodeflowServer(ServerDeps{Store: ms})

	result, err := s.handleQuery(context.Background(), buildRequest("nodeflow.query", map[string]any{
		"resource": "executions",
		"filter":   map[string]any{"workflow_id": "wf-1", "status": "failed", "since": "2026-01-02T15:04:05Z", "limit": "5"},
	}))
	require.NoError(t, err)

	var got struct {
		Executions []store.Execution `json:"executions"`
	}
	unmarshalResult(t, result, &got)
	require.Len(t, got.Executions, 1)
	assert.Equal(t, "x2", got.Executions[0].ID)

	assert.Equal(t, 5, ms.lastExecFilter.Limit)
	require.NotNil(t, ms.lastExecFilter.Since)
	assert.Equal(t, 2026, ms.lastExecFilter.Since.Year())
}

func TestQueryTool_Logs(t *testing.T) {
	ms := &mockStore{logs: []*store.LogRecord{
		{ExecutionID: "x1", Sequence: 1, LogEntry: schema.LogEntry{Level: schema.LogLevelError, Message: "boom", NodeID: "t"}},
	}}
	s := NewNodeflowServer(ServerDeps{Store: ms})

	result, err := s.handleQuery(context.Background(), buildRequest("nodeflow.query", map[string]any{
		"resource": "logs",
		"filter":   map[string]any{"level": "error", "node_id": "t"},
	}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, result), "boom")
	assert.Equal(t, schema.LogLevelError, ms.lastLogFilter.Level)
	assert.Equal(t, "t", ms.lastLogFilter.NodeID)
	assert.Equal(t, 100, ms.lastLogFilter.Limit)
}

func TestQueryTool_UnknownResource(t *testing.T) {
	s := NewNodeflowServer(ServerDeps{Store: &mockStore{}})

	result, err := s.handleQuery(context.Background(), buildRequest("nodeflow.query", map[string]any{"resource": "agents"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleQuery(context.Background(), buildRequest("nodeflow.query", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExecutionTool(t *testing.T) {
	ms := &mockStore{
		executions: []*store.Execution{{
			ID: "x1", WorkflowID: "wf-1", Status: schema.ExecutionStatusCompleted,
			Logs: []schema.LogEntry{{Level: schema.LogLevelInfo, Message: "run started"}, {Level: schema.LogLevelInfo, Message: "run completed"}},
		}},
		logs: []*store.LogRecord{
			{ExecutionID: "x1", Sequence: 1, LogEntry: schema.LogEntry{Message: "run started"}},
			{ExecutionID: "x1", Sequence: 2, LogEntry: schema.LogEntry{Message: "run completed"}},
		},
	}
	s := NewNodeflowServer(ServerDeps{Store: ms})

	t.Run("full", func(t *testing.T) {
		result, err := s.handleExecution(context.Background(), buildRequest("nodeflow.execution", map[string]any{"execution_id": "x1"}))
		require.NoError(t, err)
		var got struct {
			Execution store.Execution `json:"execution"`
		}
		unmarshalResult(t, result, &got)
		assert.Len(t, got.Execution.Logs, 2)
	})

	t.Run("since", func(t *testing.T) {
		result, err := s.handleExecution(context.Background(), buildRequest("nodeflow.execution", map[string]any{"execution_id": "x1", "since": 1}))
		require.NoError(t, err)
		var got struct {
			Execution store.Execution   `json:"execution"`
			Logs      []store.LogRecord `json:"logs"`
		}
		unmarshalResult(t, result, &got)
		assert.Empty(t, got.Execution.Logs)
		require.Len(t, got.Logs, 1)
		assert.Equal(t, int64(2), got.Logs[0].Sequence)
		assert.Len(t, ms.executions[0].Logs, 2, "stored record must not change")
	})

	t.Run("missing", func(t *testing.T) {
		result, err := s.handleExecution(context.Background(), buildRequest("nodeflow.execution", map[string]any{"execution_id": "nope"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})
}

func diagramStore() *mockStore {
	return &mockStore{
		workflows: []*store.Workflow{{Workflow: schema.Workflow{
			ID: "wf-1", Name: "Pipeline",
			Nodes: []schema.Node{
				{ID: "s", Type: schema.NodeTypeStart},
				{ID: "check", Type: schema.NodeTypeCondition, Config: map[string]any{"condition": "1 < 2"}},
				{ID: "t", Type: schema.NodeTypeTool, ToolID: "upper"},
			},
			Edges: []schema.Edge{
				{ID: "e1", Source: "s", Target: "check"},
				{ID: "e2", Source: "check", Target: "t", SourceHandle: "true"},
			},
		}}},
		executions: []*store.Execution{{
			ID: "x1", WorkflowID: "wf-1", Status: schema.ExecutionStatusFailed,
			Logs: []schema.LogEntry{
				{Level: schema.LogLevelInfo, NodeID: "s", Message: "executing node s (start)"},
				{Level: schema.LogLevelError, NodeID: "t", Message: "tool upper failed"},
			},
		}},
	}
}

func TestDiagramTool(t *testing.T) {
	s := NewNodeflowServer(ServerDeps{Store: diagramStore()})
	ctx := context.Background()

	t.Run("mermaid with execution", func(t *testing.T) {
		result, err := s.handleDiagram(ctx, buildRequest("nodeflow.diagram", map[string]any{
			"workflow_id": "wf-1", "execution_id": "x1", "format": "mermaid",
		}))
		require.NoError(t, err)
		require.False(t, result.IsError)
		text := extractText(t, result)
		assert.Contains(t, text, "check -->|true| t")
		assert.Contains(t, text, "class s completed")
		assert.Contains(t, text, "class t failed")
	})

	t.Run("ascii from definition", func(t *testing.T) {
		result, err := s.handleDiagram(ctx, buildRequest("nodeflow.diagram", map[string]any{
			"format": "ascii",
			"definition": map[string]any{
				"id":    "inline",
				"name":  "Inline",
				"nodes": []any{map[string]any{"id": "s", "type": "start"}},
				"edges": []any{},
			},
		}))
		require.NoError(t, err)
		require.False(t, result.IsError)
		assert.Contains(t, extractText(t, result), "=== Inline ===")
	})

	t.Run("errors", func(t *testing.T) {
		cases := []map[string]any{
			{"workflow_id": "wf-1"},
			{"workflow_id": "wf-1", "format": "svg"},
			{"workflow_id": "nope", "format": "ascii"},
			{"workflow_id": "wf-1", "execution_id": "nope", "format": "ascii"},
			{"format": "ascii"},
		}
		for _, args := range cases {
			result, err := s.handleDiagram(ctx, buildRequest("nodeflow.diagram", args))
			require.NoError(t, err)
			assert.True(t, result.IsError, "%v", args)
		}
	})
}

func TestSessionNotifier_NoSession(t *testing.T) {
	s := NewNodeflowServer(ServerDeps{})
	n := NewSessionNotifier(s.MCPServer())
	assert.NoError(t, n.RunFinished(context.Background(), completedResult()))
	assert.NoError(t, n.RunFinished(context.Background(), nil))
}
