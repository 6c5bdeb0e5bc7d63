package store

import (
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Workflow is a persisted workflow definition.
type Workflow struct {
	schema.Workflow
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Execution is the persisted record of one run.
type Execution struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      schema.ExecutionStatus `json:"status"`
	Input       map[string]any         `json:"input,omitempty"`
	Output      any                    `json:"output,omitempty"`
	Context     map[string]any         `json:"context,omitempty"`
	Logs        []schema.LogEntry      `json:"logs,omitempty"`
	Error       *schema.FlowError      `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// Duration returns the run time of a finished execution, or zero.
func (e *Execution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// LogRecord is a run log entry as stored, with its position in the execution's log.
type LogRecord struct {
	schema.LogEntry
	ExecutionID string `json:"execution_id"`
	Sequence    int64  `json:"sequence"`
}

// Schedule runs a stored workflow whenever its cron expression fires.
type Schedule struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	CronExpression  string         `json:"cron_expression"`
	Input           map[string]any `json:"input,omitempty"`
	Enabled         bool           `json:"enabled"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time     `json:"next_run_at,omitempty"`
	LastRunStatus   string         `json:"last_run_status,omitempty"`
	LastExecutionID string         `json:"last_execution_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ToolFilter specifies criteria for listing tools.
type ToolFilter struct {
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Since      *time.Time              `json:"since,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
	Offset     int                     `json:"offset,omitempty"`
}

// LogFilter specifies criteria for listing run log entries across executions.
type LogFilter struct {
	WorkflowID string          `json:"workflow_id,omitempty"`
	NodeID     string          `json:"node_id,omitempty"`
	Level      schema.LogLevel `json:"level,omitempty"`
	Since      *time.Time      `json:"since,omitempty"`
	Limit      int             `json:"limit,omitempty"`
}

// ScheduleFilter specifies criteria for listing schedules.
type ScheduleFilter struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// ScheduleUpdate specifies mutable fields of a schedule. Nil and empty
// fields are left unchanged.
type ScheduleUpdate struct {
	Enabled         *bool      `json:"enabled,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus   string     `json:"last_run_status,omitempty"`
	LastExecutionID string     `json:"last_execution_id,omitempty"`
}
