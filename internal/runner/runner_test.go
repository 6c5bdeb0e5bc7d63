package runner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/isolation"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/scripting"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/internal/validation"
	"github.com/rendis/nodeflow/pkg/schema"
)

type fixture struct {
	store   *store.LibSQLStore
	events  *streaming.MemoryHub
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "runner.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	compiler, err := scripting.NewCompiler(scripting.Config{Isolator: isolation.NewFallbackIsolator(), Logger: logging.NewNop()})
	require.NoError(t, err)

	builtins := tools.NewRegistry()
	require.NoError(t, builtins.RegisterFunc("double", "Double", func(_ context.Context, in map[string]any) (any, error) {
		n, _ := in["n"].(float64)
		return n * 2, nil
	}))
	lookup := tools.Chain(builtins, tools.NewStoreLookup(s, compiler))

	validator, err := validation.NewWorkflowValidator(lookup, compiler)
	require.NoError(t, err)

	exec := engine.NewExecutor(lookup, compiler, engine.ExecutorConfig{Logger: logging.NewNop(), ValidateInputs: true},
		engine.WithInputValidator(validator.ValidateToolInputs))
	t.Cleanup(exec.Close)

	hub := streaming.NewMemoryHub()
	return &fixture{
		store:  s,
		events: hub,
		service: New(Deps{
			Store:     s,
			Executor:  exec,
			Validator: validator,
			Events:    hub,
			Logger:    logging.NewNop(),
		}),
	}
}

func (f *fixture) saveWorkflow(t *testing.T, wf schema.Workflow) {
	t.Helper()
	require.NoError(t, f.store.CreateWorkflow(context.Background(), &store.Workflow{Workflow: wf}))
}

func doublingFlow(id, toolID string) schema.Workflow {
	return schema.Workflow{
		ID:   id,
		Name: "doubling",
		Nodes: []schema.Node{
			{ID: "s", Type: schema.NodeTypeStart},
			{ID: "t", Type: schema.NodeTypeTool, ToolID: toolID, Config: map[string]any{
				"inputs": map[string]any{"n": "{{x}}"}, "output_key": "doubled",
			}},
			{ID: "e", Type: schema.NodeTypeEnd, Config: map[string]any{"output_key": "doubled"}},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "s", Target: "t"},
			{ID: "e2", Source: "t", Target: "e"},
		},
	}
}

func TestRun_RecordsCompletedExecution(t *testing.T) {
	f := newFixture(t)
	f.saveWorkflow(t, doublingFlow("wf-1", "double"))

	res, err := f.service.Run(context.Background(), "wf-1", map[string]any{"x": 4})
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusCompleted, res.Status)
	assert.Equal(t, 8.0, res.Output)

	rec, err := f.service.Execution(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", rec.WorkflowID)
	assert.Equal(t, schema.ExecutionStatusCompleted, rec.Status)
	assert.Equal(t, 8.0, rec.Output)
	assert.Equal(t, 4.0, rec.Input["x"])
	require.NotNil(t, rec.CompletedAt)
	assert.Len(t, rec.Logs, len(res.Log))
}

func TestRun_PublishesRunEvents(t *testing.T) {
	f := newFixture(t)
	f.saveWorkflow(t, doublingFlow("wf-1", "double"))
	f.saveWorkflow(t, doublingFlow("wf-2", "double"))

	ch, cancel, err := f.events.Subscribe(context.Background(), streaming.EventFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	defer cancel()

	_, err = f.service.Run(context.Background(), "wf-2", map[string]any{"x": 1})
	require.NoError(t, err)
	res, err := f.service.Run(context.Background(), "wf-1", map[string]any{"x": 2})
	require.NoError(t, err)

	require.Len(t, ch, 2)
	started, finished := <-ch, <-ch
	assert.Equal(t, streaming.EventRunStarted, started.Type)
	assert.Equal(t, res.RunID, started.ExecutionID)
	assert.Equal(t, schema.ExecutionStatusRunning, started.Status)

	assert.Equal(t, streaming.EventRunFinished, finished.Type)
	assert.Equal(t, schema.ExecutionStatusCompleted, finished.Status)
	assert.Equal(t, 4.0, finished.Output)
	assert.Nil(t, finished.Error)
}

func TestRun_StoredScriptTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateTool(ctx, &schema.ToolDefinition{
		ID:         "triple",
		Name:       "Triple",
		Runtime:    schema.RuntimeJS,
		Code:       `function execute(inputs) { return inputs.n * 3 }`,
		Parameters: []schema.ParameterSpec{{Name: "n", Type: "number", Required: true}},
	}))
	f.saveWorkflow(t, doublingFlow("wf-js", "triple"))

	res, err := f.service.Run(ctx, "wf-js", map[string]any{"x": 5})
	require.NoError(t, err)
	assert.Equal(t, 15.0, res.Output)
}

func TestRun_FailedRunIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateTool(ctx, &schema.ToolDefinition{
		ID:   "boom",
		Name: "Boom",
		Code: `throw new Error("no luck")`,
	}))
	f.saveWorkflow(t, doublingFlow("wf-fail", "boom"))

	res, err := f.service.Run(ctx, "wf-fail", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStepFailed))
	require.NotNil(t, res)

	rec, err := f.service.Execution(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, schema.ErrCodeStepFailed, rec.Error.Code)
	assert.Equal(t, "t", rec.Error.NodeID)
}

func TestRun_MissingRequiredInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateTool(ctx, &schema.ToolDefinition{
		ID:         "needs-name",
		Name:       "Needs name",
		Code:       `result = inputs.name`,
		Parameters: []schema.ParameterSpec{{Name: "name", Type: "string", Required: true}},
	}))
	f.saveWorkflow(t, schema.Workflow{
		ID: "wf-inputs",
		Nodes: []schema.Node{
			{ID: "s", Type: schema.NodeTypeStart},
			{ID: "t", Type: schema.NodeTypeTool, ToolID: "needs-name"},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "s", Target: "t"}},
	})

	res, err := f.service.Run(ctx, "wf-inputs", nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, schema.ExecutionStatusFailed, res.Status)
}

func TestRun_UnknownWorkflow(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Run(context.Background(), "missing", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestRun_NoStartNodeIsRecordedFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveWorkflow(t, schema.Workflow{
		ID:    "wf-headless",
		Nodes: []schema.Node{{ID: "t", Type: schema.NodeTypeTool, ToolID: "nope"}},
	})

	res, err := f.service.Run(ctx, "wf-headless", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNoStartNode))
	require.NotNil(t, res)
	assert.Equal(t, schema.ExecutionStatusFailed, res.Status)

	rec, err := f.service.Execution(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, schema.ErrCodeNoStartNode, rec.Error.Code)
}

func TestRun_MissingToolIsRecordedFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveWorkflow(t, doublingFlow("wf-gone", "deleted-tool"))

	res, err := f.service.Run(ctx, "wf-gone", map[string]any{"x": 2.0})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeToolNotFound))

	rec, err := f.service.Execution(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, "t", rec.Error.NodeID)
}

func TestRun_UntakenBranchWithMissingTool(t *testing.T) {
	f := newFixture(t)
	f.saveWorkflow(t, schema.Workflow{
		ID: "wf-branch",
		Nodes: []schema.Node{
			{ID: "s", Type: schema.NodeTypeStart},
			{ID: "c", Type: schema.NodeTypeCondition, Config: map[string]any{"condition": "{{x}} > 3"}},
			{ID: "e", Type: schema.NodeTypeEnd},
			{ID: "t", Type: schema.NodeTypeTool, ToolID: "deleted-tool"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "s", Target: "c"},
			{ID: "e2", Source: "c", Target: "e", SourceHandle: "true"},
			{ID: "e3", Source: "c", Target: "t", SourceHandle: "false"},
		},
	})

	res, err := f.service.Run(context.Background(), "wf-branch", map[string]any{"x": 5.0})
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusCompleted, res.Status)
	assert.Equal(t, map[string]any{"x": 5.0}, res.Output)
}

func TestRun_UnknownNodeTypeIsRecordedFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveWorkflow(t, schema.Workflow{
		ID: "wf-odd",
		Nodes: []schema.Node{
			{ID: "s", Type: schema.NodeTypeStart},
			{ID: "w", Type: schema.NodeType("webhook")},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "s", Target: "w"}},
	})

	res, err := f.service.Run(ctx, "wf-odd", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	require.NotNil(t, res)

	history, err := f.service.History(ctx, store.ExecutionFilter{WorkflowID: "wf-odd"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, schema.ExecutionStatusFailed, history[0].Status)
	assert.Equal(t, res.RunID, history[0].ID)
}

type rejectingExecutor struct {
	engine.Executor
	err error
}

func (r rejectingExecutor) Execute(context.Context, *schema.Workflow, map[string]any) (*schema.ExecutionResult, error) {
	return nil, r.err
}

func TestRun_RejectedRunIsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveWorkflow(t, doublingFlow("wf-rejected", "double"))

	svc := New(Deps{
		Store:    f.store,
		Executor: rejectingExecutor{err: schema.NewError(schema.ErrCodeCancelled, "shutting down")},
		Logger:   logging.NewNop(),
	})
	svc.newID = func() string { return "exec-rejected" }

	res, err := svc.Run(ctx, "wf-rejected", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCancelled))
	require.NotNil(t, res)
	assert.Equal(t, "exec-rejected", res.RunID)

	rec, err := f.service.Execution(ctx, "exec-rejected")
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, schema.ErrCodeCancelled, rec.Error.Code)
}

func TestRunDefinition_DoesNotRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := doublingFlow("adhoc", "double")

	res, err := f.service.RunDefinition(ctx, &wf, map[string]any{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, 4.0, res.Output)

	history, err := f.service.History(ctx, store.ExecutionFilter{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHistory_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveWorkflow(t, doublingFlow("wf-h", "double"))

	first, err := f.service.Run(ctx, "wf-h", map[string]any{"x": 1})
	require.NoError(t, err)
	second, err := f.service.Run(ctx, "wf-h", map[string]any{"x": 2})
	require.NoError(t, err)

	history, err := f.service.History(ctx, store.ExecutionFilter{WorkflowID: "wf-h"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	ids := []string{history[0].ID, history[1].ID}
	assert.ElementsMatch(t, []string{first.RunID, second.RunID}, ids)
}
