package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeflow/pkg/schema"
)

// RunNotifier is told about every run started through the MCP surface.
type RunNotifier interface {
	RunFinished(ctx context.Context, result *schema.ExecutionResult) error
}

// SessionNotifier implements RunNotifier by sending a log message
// notification to the client session that requested the run.
type SessionNotifier struct {
	mcpServer *server.MCPServer
}

// NewSessionNotifier creates a notifier that pushes to the calling session.
func NewSessionNotifier(mcpServer *server.MCPServer) *SessionNotifier {
	return &SessionNotifier{mcpServer: mcpServer}
}

// RunFinished notifies the session in ctx. Best-effort: returns nil when
// the call carries no session or the session is gone.
func (n *SessionNotifier) RunFinished(ctx context.Context, result *schema.ExecutionResult) error {
	if result == nil {
		return nil
	}
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return nil
	}

	level := mcp.LoggingLevelInfo
	if result.Status == schema.ExecutionStatusFailed {
		level = mcp.LoggingLevelError
	}
	payload := map[string]any{
		"level":  level,
		"logger": "nodeflow",
		"data": map[string]any{
			"run_id":      result.RunID,
			"workflow_id": result.WorkflowID,
			"status":      result.Status,
		},
	}

	err := n.mcpServer.SendNotificationToSpecificClient(session.SessionID(), "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		return nil
	}
	return err
}
