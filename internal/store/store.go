package store

import (
	"context"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
// Misses return NOT_FOUND, duplicate IDs CONFLICT, anything else STORE_ERROR.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *Workflow) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Tools
	CreateTool(ctx context.Context, def *schema.ToolDefinition) error
	GetTool(ctx context.Context, id string) (*schema.ToolDefinition, error)
	UpdateTool(ctx context.Context, def *schema.ToolDefinition) error
	ListTools(ctx context.Context, filter ToolFilter) ([]*schema.ToolDefinition, error)
	DeleteTool(ctx context.Context, id string) error

	// Executions. FinishExecution only succeeds once, on a running execution.
	CreateExecution(ctx context.Context, exec *Execution) error
	FinishExecution(ctx context.Context, id string, result *schema.ExecutionResult) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)

	// Run logs (append-only, sequenced per execution)
	GetExecutionLogs(ctx context.Context, executionID string, since int64) ([]*LogRecord, error)
	ListLogs(ctx context.Context, filter LogFilter) ([]*LogRecord, error)

	// Schedules
	CreateSchedule(ctx context.Context, sched *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
