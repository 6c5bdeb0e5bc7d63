package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/metrics"
	"github.com/rendis/nodeflow/internal/scheduler"
	"github.com/rendis/nodeflow/internal/streaming"
	nfmcp "github.com/rendis/nodeflow/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes nodeflow.run, nodeflow.validate, nodeflow.query, nodeflow.execution and
nodeflow.diagram to MCP clients.

Supported transports:
- stdio (default): standard input/output, for local process integration.
- sse: Server-Sent Events over HTTP on --addr.

The HTTP side also serves /healthz, /metrics (Prometheus) and /events, a live stream of
run.started and run.finished events filtered by ?workflow_id= and ?type=. With
stdio these are served on --metrics-addr when it is set.

With --scheduler the server also fires stored schedules (see "nodeflow schedule").`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")
		baseURL, _ := cmd.Flags().GetString("base-url")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		withScheduler, _ := cmd.Flags().GetBool("scheduler")

		return withApp(cmd, func(a *app) error {
			srv := nfmcp.NewNodeflowServer(nfmcp.ServerDeps{
				Runner:    a.runner,
				Store:     a.store,
				Validator: a.validator,
				Version:   version,
				Logger:    a.logger,
			})
			ctx := cmd.Context()
			if withScheduler {
				sched := scheduler.New(a.store, a.runner, a.logger)
				if err := sched.RecoverMissed(ctx); err != nil {
					a.logger.Warn("schedule recovery failed", slog.String("error", err.Error()))
				}
				if err := sched.Start(ctx); err != nil {
					return err
				}
				defer func() { _ = sched.Stop() }()
			}
			extra := map[string]http.Handler{
				"/metrics": metrics.Handler(a.registry),
				"/events":  streaming.Handler(a.events, a.logger),
			}

			switch transport {
			case "stdio":
				if metricsAddr != "" {
					ms := &http.Server{Addr: metricsAddr, Handler: nfmcp.NewRouter(extra), ReadHeaderTimeout: 10 * time.Second}
					go func() {
						if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							a.logger.Error("metrics server failed", slog.String("error", err.Error()))
						}
					}()
					defer ms.Close()
				}
				a.logger.Info("starting mcp server (stdio)")
				return srv.Serve(ctx)
			case "sse":
				if baseURL == "" {
					baseURL = "http://localhost" + addr
				}
				return srv.ServeSSE(ctx, addr, baseURL, extra)
			default:
				return fmt.Errorf("unknown transport %q (supported: stdio, sse)", transport)
			}
		})
	},
}

func init() {
	mcpCmd.Flags().String("transport", "stdio", "transport: stdio or sse")
	mcpCmd.Flags().String("addr", ":4100", "listen address for the sse transport")
	mcpCmd.Flags().String("base-url", "", "public base URL for the sse transport (derived from --addr if empty)")
	mcpCmd.Flags().String("metrics-addr", "", "serve /healthz, /metrics and /events on this address with the stdio transport")
	mcpCmd.Flags().Bool("scheduler", false, "also run due workflow schedules while serving")
	rootCmd.AddCommand(mcpCmd)
}
