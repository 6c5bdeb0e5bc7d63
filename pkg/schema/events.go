package schema

import "time"

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// LogLevel is the severity of a run log entry.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelSuccess LogLevel = "success"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// LogEntry is a single line of a run log.
type LogEntry struct {
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// ExecutionResult is the artifact of one run, handed to the caller for persistence.
type ExecutionResult struct {
	RunID       string          `json:"run_id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	Output      any             `json:"output,omitempty"`
	Context     map[string]any  `json:"context"`
	Log         []LogEntry      `json:"log"`
	Error       *FlowError      `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Messages returns the log messages in order, without timestamps.
func (r *ExecutionResult) Messages() []string {
	out := make([]string, len(r.Log))
	for i, e := range r.Log {
		out[i] = e.Message
	}
	return out
}
