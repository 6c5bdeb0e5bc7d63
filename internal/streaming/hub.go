// Package streaming fans run lifecycle events out to live subscribers.
package streaming

import (
	"context"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Run event types.
const (
	EventRunStarted  = "run.started"
	EventRunFinished = "run.finished"
)

// RunEvent is emitted when a recorded run starts or finishes.
type RunEvent struct {
	Type        string                 `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      schema.ExecutionStatus `json:"status"`
	Output      any                    `json:"output,omitempty"`
	Error       *schema.FlowError      `json:"error,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	WorkflowID string   `json:"workflow_id,omitempty"`
	Types      []string `json:"types,omitempty"`
}

// EventHub provides pub/sub for run events.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}
