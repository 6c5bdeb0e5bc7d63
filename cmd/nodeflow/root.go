package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nodeflow",
	Short: "nodeflow runs graph workflows of tool, condition, loop and code nodes",
	Long: `nodeflow walks a workflow graph from its start node, executes each node by
type over a shared context and records the output and run log of every run.

Workflows and tools live in a local libSQL database (see --db-path).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	defaults := defaultConfig()
	flags := rootCmd.PersistentFlags()
	flags.String("db-path", defaults.DBPath, "database path")
	flags.String("log-level", defaults.LogLevel, "log level: debug, info, warn, error")
	flags.String("log-format", defaults.LogFormat, "log format: text or json")
	flags.Int("pool-size", defaults.PoolSize, "max concurrent tool and code invocations")
	flags.String("step-timeout", "", "bound on each tool or code invocation, e.g. 30s (empty: none)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// resolveConfig returns the effective configuration for cmd.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, err
	}
	cfg.applyFlags(cmd)
	return cfg, nil
}
