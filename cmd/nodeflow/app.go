package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/metrics"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/internal/scripting"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/internal/validation"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	tools     *tools.StoreLookup
	validator *validation.WorkflowValidator
	executor  engine.Executor
	runner    *runner.Service
	events    *streaming.MemoryHub
	registry  *prometheus.Registry
}

// newApp opens the store and wires the engine around it.
func newApp(ctx context.Context, cfg Config) (*app, error) {
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	stepTimeout, err := cfg.stepTimeout()
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	compiler, err := scripting.NewCompiler(scripting.Config{Logger: logger})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	builtins := tools.NewRegistry()
	if err := tools.RegisterBuiltins(builtins, tools.BuiltinConfig{}); err != nil {
		_ = st.Close()
		return nil, err
	}
	stored := tools.NewStoreLookup(st, compiler)
	lookup := tools.Chain(builtins, stored)

	validator, err := validation.NewWorkflowValidator(lookup, compiler)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.New(reg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	exec := engine.NewExecutor(lookup, compiler, engine.ExecutorConfig{
		PoolSize:       cfg.PoolSize,
		StepTimeout:    stepTimeout,
		ValidateInputs: true,
		Logger:         logger,
		Metrics:        recorder,
	}, engine.WithInputValidator(validator.ValidateToolInputs))
	if err := metrics.RegisterPool(reg, exec.PoolMetrics); err != nil {
		exec.Close()
		_ = st.Close()
		return nil, err
	}

	events := streaming.NewMemoryHub()
	if err := metrics.RegisterEvents(reg, events); err != nil {
		exec.Close()
		_ = st.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		tools:     stored,
		validator: validator,
		executor:  exec,
		runner: runner.New(runner.Deps{
			Store:     st,
			Executor:  exec,
			Validator: validator,
			Events:    events,
			Logger:    logger,
		}),
		events:   events,
		registry: reg,
	}, nil
}

func (a *app) Close() {
	a.executor.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", slog.String("error", err.Error()))
	}
}

// withApp resolves the configuration for cmd, builds the app and runs fn.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
