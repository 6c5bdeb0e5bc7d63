package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// NodeStartPrefix opens the info entry written each time a node is entered.
const NodeStartPrefix = "executing node "

// RunLog is the ordered, append-only trace of a run. Every entry is
// mirrored to the structured logger.
type RunLog struct {
	entries []schema.LogEntry
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunLog creates an empty run log mirroring to logger.
func NewRunLog(logger *slog.Logger) *RunLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunLog{logger: logger, now: time.Now}
}

// Info appends an info entry.
func (l *RunLog) Info(ctx context.Context, nodeID, message string) {
	l.append(ctx, schema.LogLevelInfo, nodeID, message, "")
}

// Success appends a success entry.
func (l *RunLog) Success(ctx context.Context, nodeID, message, detail string) {
	l.append(ctx, schema.LogLevelSuccess, nodeID, message, detail)
}

// Warning appends a warning entry.
func (l *RunLog) Warning(ctx context.Context, nodeID, message string) {
	l.append(ctx, schema.LogLevelWarning, nodeID, message, "")
}

// Error appends an error entry.
func (l *RunLog) Error(ctx context.Context, nodeID, message, detail string) {
	l.append(ctx, schema.LogLevelError, nodeID, message, detail)
}

func (l *RunLog) append(ctx context.Context, level schema.LogLevel, nodeID, message, detail string) {
	l.entries = append(l.entries, schema.LogEntry{
		Level:     level,
		Message:   message,
		Timestamp: l.now().UTC(),
		NodeID:    nodeID,
		Detail:    detail,
	})

	attrs := make([]any, 0, 4)
	if nodeID != "" {
		attrs = append(attrs, slog.String("node_id", nodeID))
	}
	if detail != "" {
		attrs = append(attrs, slog.String("detail", detail))
	}
	l.logger.Log(ctx, slogLevel(level), message, attrs...)
}

// Entries returns a copy of the log.
func (l *RunLog) Entries() []schema.LogEntry {
	out := make([]schema.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *RunLog) Len() int {
	return len(l.entries)
}

func slogLevel(level schema.LogLevel) slog.Level {
	switch level {
	case schema.LogLevelSuccess:
		return slog.LevelInfo
	case schema.LogLevelWarning:
		return slog.LevelWarn
	case schema.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
