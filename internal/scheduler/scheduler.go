// Package scheduler runs stored workflows on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultInterval is how often the store is polled for due schedules.
const DefaultInterval = time.Minute

// Last-run statuses recorded when a run could not produce an execution.
const (
	StatusError       = "error"
	StatusInvalidCron = "invalid_cron"
)

// WorkflowRunner runs a stored workflow. Satisfied by runner.Service.
type WorkflowRunner interface {
	Run(ctx context.Context, workflowID string, input map[string]any) (*schema.ExecutionResult, error)
}

// ScheduleStore is the part of store.Store the scheduler needs.
type ScheduleStore interface {
	ListSchedules(ctx context.Context, filter store.ScheduleFilter) ([]*store.Schedule, error)
	UpdateSchedule(ctx context.Context, id string, update store.ScheduleUpdate) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler polls the store for due schedules and runs them.
type Scheduler struct {
	store    ScheduleStore
	runner   WorkflowRunner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently running
}

// New creates a Scheduler.
func New(s ScheduleStore, runner WorkflowRunner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	sched := &Scheduler{
		store:    s,
		runner:   runner,
		parser:   NewParser(),
		logger:   logger,
		interval: DefaultInterval,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

// NewParser returns the five-field cron parser schedules are validated with.
func NewParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// NextRun parses cronExpr and returns its first activation after from.
func NextRun(cronExpr string, from time.Time) (time.Time, error) {
	return nextRun(NewParser(), cronExpr, from)
}

func nextRun(p cron.Parser, cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := p.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}
	return schedule.Next(from).UTC(), nil
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	return nextRun(s.parser, cronExpr, from)
}

// Start launches the background loop. The first poll happens immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx, s.done)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop cancels the loop and waits for the current poll to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RunDue runs every enabled schedule whose next run is at or before now,
// or that has never been planned. It returns how many were started.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	enabled := true
	due, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	ran := 0
	for _, sched := range due {
		if ctx.Err() != nil {
			break
		}
		if sched.NextRunAt != nil && sched.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(sched.ID) {
			continue
		}
		if err := s.runSchedule(ctx, sched, now); err != nil {
			s.logger.Error("failed to record scheduled run",
				slog.String("schedule_id", sched.ID),
				slog.String("error", err.Error()),
			)
		}
		s.release(sched.ID)
		ran++
	}
	return ran, nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunDue(ctx); err != nil {
		s.logger.Error("failed to list schedules", slog.String("error", err.Error()))
	}
}

// RecoverMissed runs schedules whose next run passed while nothing was
// polling, once each, and logs how many were caught up.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	n, err := s.RunDue(ctx)
	if err != nil {
		return fmt.Errorf("recover missed schedules: %w", err)
	}
	if n > 0 {
		s.logger.Info("recovered missed schedules", slog.Int("count", n))
	}
	return nil
}

func (s *Scheduler) runSchedule(ctx context.Context, sched *store.Schedule, now time.Time) error {
	next, err := s.CalculateNextRun(sched.CronExpression, now)
	if err != nil {
		disabled := false
		s.logger.Warn("disabling schedule with invalid cron expression",
			slog.String("schedule_id", sched.ID),
			slog.String("cron", sched.CronExpression),
		)
		return s.store.UpdateSchedule(ctx, sched.ID, store.ScheduleUpdate{
			Enabled:       &disabled,
			LastRunAt:     &now,
			LastRunStatus: StatusInvalidCron,
		})
	}

	logger := logging.LogWith(logging.WithWorkflowID(ctx, sched.WorkflowID), s.logger)
	logger.Info("running scheduled workflow", slog.String("schedule_id", sched.ID))

	update := store.ScheduleUpdate{LastRunAt: &now, NextRunAt: &next, LastRunStatus: StatusError}
	res, runErr := s.runner.Run(ctx, sched.WorkflowID, schema.DeepCopyMap(sched.Input))
	if res != nil {
		update.LastRunStatus = string(res.Status)
		update.LastExecutionID = res.RunID
	}
	if runErr != nil {
		logger.Error("scheduled run failed",
			slog.String("schedule_id", sched.ID),
			slog.String("error", runErr.Error()),
		)
	}

	return s.store.UpdateSchedule(context.WithoutCancel(ctx), sched.ID, update)
}

// tryAcquire marks the schedule as running unless it already is.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}
