package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/graph"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Executor runs workflow definitions.
type Executor interface {
	// Execute walks wf from its start node. On failure the returned result
	// carries status failed, the partial log and context, and the same
	// error that is returned.
	Execute(ctx context.Context, wf *schema.Workflow, input map[string]any) (*schema.ExecutionResult, error)

	// PoolMetrics reports the shared worker pool counters.
	PoolMetrics() PoolMetrics

	// Close stops accepting capability invocations and waits for the
	// in-flight ones.
	Close()
}

// Recorder receives run and node measurements. A nil Recorder disables them.
type Recorder interface {
	RunFinished(status schema.ExecutionStatus, d time.Duration)
	NodeFinished(nodeType schema.NodeType, ok bool, d time.Duration)
}

// DefaultPoolSize is the default worker pool concurrency.
const DefaultPoolSize = 10

// ExecutorConfig holds configuration for the executor.
type ExecutorConfig struct {
	PoolSize    int           // max concurrent capability invocations across runs
	StepTimeout time.Duration // bound on each tool/code invocation; zero means none
	// ValidateInputs checks tool inputs against the tool's declared
	// required parameters before invocation.
	ValidateInputs bool
	Logger         *slog.Logger
	Metrics        Recorder
}

// InputValidator checks substituted tool inputs against a tool definition.
type InputValidator func(def *schema.ToolDefinition, inputs map[string]any) error

// executorImpl is the concrete Executor implementation.
type executorImpl struct {
	lookup     tools.Lookup
	compiler   tools.Compiler
	validate   InputValidator
	conditions *expressions.ConditionEvaluator
	pool       *WorkerPool
	config     ExecutorConfig
	logger     *slog.Logger
	steps      map[schema.NodeType]stepFunc

	// mu guards programs.
	mu       sync.RWMutex
	programs map[programKey]tools.Capability
}

type programKey struct {
	language string
	code     string
}

// Option customizes an executor.
type Option func(*executorImpl)

// WithInputValidator installs the tool input validator used when
// ExecutorConfig.ValidateInputs is set.
func WithInputValidator(v InputValidator) Option {
	return func(e *executorImpl) { e.validate = v }
}

// NewExecutor creates an Executor resolving tool nodes through lookup and
// compiling code nodes with compiler.
func NewExecutor(lookup tools.Lookup, compiler tools.Compiler, cfg ExecutorConfig, opts ...Option) Executor {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if _, ok := cfg.Logger.Handler().(*logging.CorrelationHandler); !ok {
		cfg.Logger = slog.New(logging.NewCorrelationHandler(cfg.Logger.Handler()))
	}

	e := &executorImpl{
		lookup:     lookup,
		compiler:   compiler,
		conditions: expressions.NewConditionEvaluator(),
		pool:       NewWorkerPool(cfg.PoolSize),
		config:     cfg,
		logger:     cfg.Logger,
		programs:   make(map[programKey]tools.Capability),
	}
	e.steps = map[schema.NodeType]stepFunc{
		schema.NodeTypeStart:     stepStart,
		schema.NodeTypeEnd:       stepEnd,
		schema.NodeTypeTool:      stepTool,
		schema.NodeTypeCondition: stepCondition,
		schema.NodeTypeLoop:      stepLoop,
		schema.NodeTypeCode:      stepCode,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// workflowRun is the state of one in-flight Execute call. Nothing in it is
// shared with other runs.
type workflowRun struct {
	e      *executorImpl
	id     string
	wf     *schema.Workflow
	index  *graph.Index
	vars   *Context
	log    *RunLog
	// failed is set once the failing node has been logged, so the error
	// is recorded exactly once while it unwinds through loop bodies.
	failed bool
}

// Execute runs wf with input. The run ID is taken from the context when set
// with logging.WithRunID, and generated otherwise.
func (e *executorImpl) Execute(ctx context.Context, wf *schema.Workflow, input map[string]any) (*schema.ExecutionResult, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	runID := logging.RunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logging.WithIDs(ctx, wf.ID, runID)

	r := &workflowRun{
		e:     e,
		id:    runID,
		wf:    wf,
		index: graph.New(wf),
		vars:  NewContext(wf.Variables, input),
		log:   NewRunLog(e.logger),
	}

	result := &schema.ExecutionResult{
		RunID:      runID,
		WorkflowID: wf.ID,
		StartedAt:  time.Now().UTC(),
	}
	r.log.Info(ctx, "", "run started: "+wf.Name)

	output, err := r.walk(ctx)

	result.CompletedAt = time.Now().UTC()
	result.Context = r.vars.Snapshot()
	if err != nil {
		fe := asFlowError(err)
		result.Status = schema.ExecutionStatusFailed
		result.Error = fe
		result.Log = r.log.Entries()
		e.recordRun(result)
		e.logger.WarnContext(ctx, "run failed", slog.String("code", fe.Code), slog.String("error", fe.Error()))
		return result, fe
	}

	r.log.Info(ctx, "", "run completed")
	result.Status = schema.ExecutionStatusCompleted
	result.Output = output
	result.Log = r.log.Entries()
	e.recordRun(result)
	return result, nil
}

func (e *executorImpl) PoolMetrics() PoolMetrics {
	return e.pool.Metrics()
}

func (e *executorImpl) Close() {
	e.pool.Shutdown()
}

func (e *executorImpl) recordRun(res *schema.ExecutionResult) {
	if e.config.Metrics != nil {
		e.config.Metrics.RunFinished(res.Status, res.CompletedAt.Sub(res.StartedAt))
	}
}

// walk locates the start node and runs from it.
func (r *workflowRun) walk(ctx context.Context) (any, error) {
	start, err := r.index.FindStart()
	if err != nil {
		// Nothing ran, so there is no node to attribute a log entry to.
		r.failed = true
		return nil, err
	}
	return r.runFrom(ctx, start)
}

// runFrom executes nodeID and then follows the graph until a node stops
// the walk or has no successor. It returns the value of the last node.
func (r *workflowRun) runFrom(ctx context.Context, nodeID string) (any, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(ctx, nodeID, contextError(err, "run"))
		}

		node, err := r.index.Node(nodeID)
		if err != nil {
			return nil, r.fail(ctx, nodeID, err)
		}
		r.log.Info(ctx, node.ID, fmt.Sprintf("%s%s (%s)", NodeStartPrefix, node.DisplayName(), node.Type))

		outcome, err := r.step(ctx, node)
		if err != nil {
			return nil, r.fail(ctx, node.ID, err)
		}

		switch {
		case outcome.Stop:
			return outcome.Value, nil
		case outcome.Next != "":
			nodeID = outcome.Next
			continue
		}

		next := r.index.Next(node.ID)
		if len(next) == 0 {
			return outcome.Value, nil
		}
		nodeID = next[0]
	}
}

func (r *workflowRun) step(ctx context.Context, node *schema.Node) (StepOutcome, error) {
	fn, ok := r.e.steps[node.Type]
	if !ok {
		return StepOutcome{}, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "unknown node type %q", node.Type).
			WithNode(node.ID)
	}

	start := time.Now()
	outcome, err := fn(ctx, r, node)
	if r.e.config.Metrics != nil {
		r.e.config.Metrics.NodeFinished(node.Type, err == nil, time.Since(start))
	}
	return outcome, err
}

// fail records err against nodeID the first time a run fails and returns
// the error unchanged in meaning.
func (r *workflowRun) fail(ctx context.Context, nodeID string, err error) error {
	fe := asFlowError(err)
	if fe.NodeID == "" {
		fe.NodeID = nodeID
	}
	if r.failed {
		return fe
	}
	r.failed = true
	r.log.Error(ctx, nodeID, fe.Message, errorDetail(fe))
	return fe
}

// asFlowError returns err's FlowError, wrapping foreign errors as STEP_FAILED.
func asFlowError(err error) *schema.FlowError {
	if fe, ok := schema.AsFlowError(err); ok {
		return fe
	}
	return schema.NewError(schema.ErrCodeStepFailed, err.Error()).WithCause(err)
}

// contextError maps a context error to CANCELLED or TIMEOUT_ERROR.
func contextError(err error, what string) *schema.FlowError {
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewErrorf(schema.ErrCodeTimeout, "%s deadline exceeded", what).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeCancelled, "%s cancelled", what).WithCause(err)
}

// errorDetail renders the diagnostic detail of a failure: its code, the
// cause chain and any structured details.
func errorDetail(fe *schema.FlowError) string {
	parts := []string{fe.Code}
	if fe.Cause != nil {
		parts = append(parts, fe.Cause.Error())
	}
	if len(fe.Details) > 0 {
		if b, err := json.Marshal(fe.Details); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, ": ")
}
