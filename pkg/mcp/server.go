package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Runner executes workflows; runner.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, workflowID string, input map[string]any) (*schema.ExecutionResult, error)
	RunDefinition(ctx context.Context, wf *schema.Workflow, input map[string]any) (*schema.ExecutionResult, error)
}

// DefinitionValidator reports every issue of a workflow definition;
// validation.WorkflowValidator satisfies it.
type DefinitionValidator interface {
	Validate(ctx context.Context, wf *schema.Workflow) *schema.ValidationResult
}

// ServerDeps holds the dependencies for creating a NodeflowServer.
type ServerDeps struct {
	Runner    Runner
	Store     store.Store
	Validator DefinitionValidator
	Notifier  RunNotifier // optional; defaults to notifying the calling session
	Version   string
	Logger    *slog.Logger
}

// NodeflowServer wraps an MCP server with nodeflow tool handlers.
type NodeflowServer struct {
	runner    Runner
	store     store.Store
	validator DefinitionValidator
	notifier  RunNotifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewNodeflowServer creates a NodeflowServer with all tools registered.
func NewNodeflowServer(deps ServerDeps) *NodeflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &NodeflowServer{
		runner:    deps.Runner,
		store:     deps.Store,
		validator: deps.Validator,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"nodeflow",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithInstructions("nodeflow runs graph workflows built from start, end, tool, condition, loop and code nodes. Use nodeflow.run to execute a stored workflow or an inline definition, nodeflow.validate to check a definition without running it, nodeflow.query to list workflows, tools, executions or log entries, nodeflow.execution to fetch one recorded run with its log, and nodeflow.diagram to draw a workflow graph."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv

	s.notifier = deps.Notifier
	if s.notifier == nil {
		s.notifier = NewSessionNotifier(mcpSrv)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *NodeflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// ServeSSE serves the SSE transport on addr until ctx is cancelled. Extra
// handlers, such as a metrics endpoint, are mounted on the same mux.
func (s *NodeflowServer) ServeSSE(ctx context.Context, addr, baseURL string, extra map[string]http.Handler) error {
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	r := NewRouter(extra)
	r.Handle("/sse", sse.SSEHandler())
	r.Handle("/message", sse.MessageHandler())

	httpServer := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("mcp server listening (sse)", slog.String("addr", addr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("stop mcp server: %w", err)
		}
		return nil
	}
}

// NewRouter returns a router serving /healthz and the given handlers by
// exact path. Panics in handlers are recovered and answered with a 500.
func NewRouter(extra map[string]http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	for pattern, h := range extra {
		r.Handle(pattern, h)
	}
	return r
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *NodeflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *NodeflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: executionTool(), Handler: s.handleExecution},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("nodeflow.run",
		mcp.WithDescription("Execute a workflow and return its output and run log"),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow; the run is recorded in the execution history")),
		mcp.WithObject("definition", mcp.Description("Inline workflow definition, used when workflow_id is absent; the run is not recorded")),
		mcp.WithObject("input", mcp.Description("Input payload merged over the workflow variables")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("nodeflow.validate",
		mcp.WithDescription("Check a workflow definition and report errors and warnings"),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow")),
		mcp.WithObject("definition", mcp.Description("Inline workflow definition, used when workflow_id is absent")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("nodeflow.query",
		mcp.WithDescription("List workflows, tools, executions or log entries"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "tools", "executions", "logs"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (workflow_id, status, category, node_id, level, since, limit, offset)")),
	)
}

func executionTool() mcp.Tool {
	return mcp.NewTool("nodeflow.execution",
		mcp.WithDescription("Get one recorded execution with its run log"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
		mcp.WithNumber("since", mcp.Description("Only return log entries after this sequence number")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("nodeflow.diagram",
		mcp.WithDescription("Draw a workflow graph as ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow")),
		mcp.WithObject("definition", mcp.Description("Inline workflow definition, used when workflow_id is absent")),
		mcp.WithString("execution_id", mcp.Description("Color nodes by the outcome of this recorded execution")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
	)
}
