// Package runner executes stored workflows and records each run.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// WorkflowChecker rejects definitions the engine cannot walk at all.
// Problems the walk itself reports, such as a missing tool, are not its
// concern.
type WorkflowChecker interface {
	CheckRunnable(ctx context.Context, wf *schema.Workflow) error
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Store     store.Store
	Executor  engine.Executor
	Validator WorkflowChecker    // optional
	Events    streaming.EventHub // optional; receives run.started and run.finished
	Logger    *slog.Logger
}

// Service loads workflows, runs them on the engine and persists the
// execution record.
type Service struct {
	store     store.Store
	executor  engine.Executor
	validator WorkflowChecker
	events    streaming.EventHub
	logger    *slog.Logger
	newID     func() string
}

// New creates a Service.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     deps.Store,
		executor:  deps.Executor,
		validator: deps.Validator,
		events:    deps.Events,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Run executes the stored workflow workflowID with input. The execution is
// recorded as running before the walk starts and finished with the result
// afterwards, whatever the outcome, including a definition rejected by the
// checker. On a failed run the result is returned together with the run
// error.
func (s *Service) Run(ctx context.Context, workflowID string, input map[string]any) (*schema.ExecutionResult, error) {
	stored, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	wf := &stored.Workflow

	execID := s.newID()
	if err := s.store.CreateExecution(ctx, &store.Execution{
		ID:         execID,
		WorkflowID: wf.ID,
		Status:     schema.ExecutionStatusRunning,
		Input:      input,
		StartedAt:  time.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	s.publish(ctx, streaming.RunEvent{
		Type:        streaming.EventRunStarted,
		ExecutionID: execID,
		WorkflowID:  wf.ID,
		Status:      schema.ExecutionStatusRunning,
	})

	ctx = logging.WithRunID(ctx, execID)
	var result *schema.ExecutionResult
	runErr := s.check(ctx, wf)
	if runErr == nil {
		result, runErr = s.executor.Execute(ctx, wf, input)
	}
	if result == nil {
		// Rejected before a walk existed; close the record so it does
		// not stay running.
		result = failedResult(execID, wf.ID, runErr)
	}

	// The record is finished even when ctx was cancelled mid-run.
	finishCtx := context.WithoutCancel(ctx)
	finishErr := s.store.FinishExecution(finishCtx, execID, result)
	s.publish(finishCtx, streaming.RunEvent{
		Type:        streaming.EventRunFinished,
		ExecutionID: execID,
		WorkflowID:  wf.ID,
		Status:      result.Status,
		Output:      result.Output,
		Error:       result.Error,
	})
	if finishErr != nil {
		s.logger.ErrorContext(ctx, "finish execution", slog.String("execution_id", execID), slog.String("error", finishErr.Error()))
		if runErr == nil {
			return result, finishErr
		}
	}
	return result, runErr
}

func (s *Service) publish(ctx context.Context, event streaming.RunEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "publish run event",
			slog.String("type", event.Type),
			slog.String("execution_id", event.ExecutionID),
			slog.String("error", err.Error()))
	}
}

// RunDefinition executes wf without touching the store. Used for
// definitions that were never imported.
func (s *Service) RunDefinition(ctx context.Context, wf *schema.Workflow, input map[string]any) (*schema.ExecutionResult, error) {
	if err := s.check(ctx, wf); err != nil {
		return nil, err
	}
	return s.executor.Execute(ctx, wf, input)
}

// Execution returns a recorded execution with its run log.
func (s *Service) Execution(ctx context.Context, id string) (*store.Execution, error) {
	return s.store.GetExecution(ctx, id)
}

// History lists recorded executions, newest first.
func (s *Service) History(ctx context.Context, filter store.ExecutionFilter) ([]*store.Execution, error) {
	return s.store.ListExecutions(ctx, filter)
}

func (s *Service) check(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	if s.validator == nil {
		return nil
	}
	return s.validator.CheckRunnable(ctx, wf)
}

func failedResult(runID, workflowID string, err error) *schema.ExecutionResult {
	now := time.Now().UTC()
	fe, ok := schema.AsFlowError(err)
	if !ok {
		fe = schema.NewError(schema.ErrCodeStepFailed, "run did not start")
		if err != nil {
			fe = schema.NewError(schema.ErrCodeStepFailed, err.Error()).WithCause(err)
		}
	}
	return &schema.ExecutionResult{
		RunID:       runID,
		WorkflowID:  workflowID,
		Status:      schema.ExecutionStatusFailed,
		Context:     map[string]any{},
		Log:         []schema.LogEntry{{Level: schema.LogLevelError, Message: fe.Message, Timestamp: now}},
		Error:       fe,
		StartedAt:   now,
		CompletedAt: now,
	}
}
