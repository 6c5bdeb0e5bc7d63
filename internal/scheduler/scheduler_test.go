package scheduler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// mockScheduleStore keeps schedules in memory.
type mockScheduleStore struct {
	mu        sync.Mutex
	schedules map[string]*store.Schedule
}

func newMockScheduleStore(list ...*store.Schedule) *mockScheduleStore {
	m := &mockScheduleStore{schedules: make(map[string]*store.Schedule)}
	for _, s := range list {
		cp := *s
		m.schedules[s.ID] = &cp
	}
	return m
}

func (m *mockScheduleStore) get(id string) store.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.schedules[id]
}

func (m *mockScheduleStore) UpdateSchedule(_ context.Context, id string, update store.ScheduleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "schedule %q not found", id)
	}
	if update.Enabled != nil {
		s.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		s.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		s.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		s.LastRunStatus = update.LastRunStatus
	}
	if update.LastExecutionID != "" {
		s.LastExecutionID = update.LastExecutionID
	}
	return nil
}

func (m *mockScheduleStore) ListSchedules(_ context.Context, filter store.ScheduleFilter) ([]*store.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Schedule
	for _, s := range m.schedules {
		if filter.Enabled != nil && s.Enabled != *filter.Enabled {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type runCall struct {
	WorkflowID string
	Input      map[string]any
}

// mockRunner records Run calls and answers with a fixed outcome.
type mockRunner struct {
	mu     sync.Mutex
	calls  []runCall
	status schema.ExecutionStatus
	err    error
	noRes  bool
}

func (r *mockRunner) Run(_ context.Context, workflowID string, input map[string]any) (*schema.ExecutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, runCall{WorkflowID: workflowID, Input: input})
	if r.noRes {
		return nil, r.err
	}
	status := r.status
	if status == "" {
		status = schema.ExecutionStatusCompleted
	}
	return &schema.ExecutionResult{RunID: "run-" + workflowID, WorkflowID: workflowID, Status: status}, r.err
}

func (r *mockRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

var fixedNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func newTestScheduler(s ScheduleStore, runner WorkflowRunner) *Scheduler {
	return New(s, runner, logging.NewNop(), WithClock(func() time.Time { return fixedNow }))
}

func at(t time.Time) *time.Time { return &t }

func TestCalculateNextRun(t *testing.T) {
	sched := newTestScheduler(newMockScheduleStore(), &mockRunner{})

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 * * * *", time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC)},
		{"0 0 * * *", time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			next, err := sched.CalculateNextRun(tt.expr, fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, next)
		})
	}

	_, err := sched.CalculateNextRun("invalid cron", fixedNow)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = NextRun("* * * * * *", fixedNow)
	assert.Error(t, err, "seconds field is not accepted")
}

func TestRunDue_RunsDueSchedules(t *testing.T) {
	ms := newMockScheduleStore(&store.Schedule{
		ID:             "sch-1",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		Input:          map[string]any{"env": "staging"},
		Enabled:        true,
		NextRunAt:      at(fixedNow.Add(-time.Hour)),
	})
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)

	n, err := sched.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, "wf-1", runner.calls[0].WorkflowID)
	assert.Equal(t, "staging", runner.calls[0].Input["env"])

	got := ms.get("sch-1")
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, fixedNow, *got.LastRunAt)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), *got.NextRunAt)
	assert.Equal(t, "completed", got.LastRunStatus)
	assert.Equal(t, "run-wf-1", got.LastExecutionID)
}

func TestRunDue_SkipsFutureAndDisabled(t *testing.T) {
	ms := newMockScheduleStore(
		&store.Schedule{ID: "future", WorkflowID: "a", CronExpression: "0 * * * *", Enabled: true, NextRunAt: at(fixedNow.Add(time.Hour))},
		&store.Schedule{ID: "off", WorkflowID: "b", CronExpression: "0 * * * *", Enabled: false, NextRunAt: at(fixedNow.Add(-time.Hour))},
	)
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)

	n, err := sched.RunDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, runner.callCount())
}

func TestRunDue_NilNextRunIsDue(t *testing.T) {
	ms := newMockScheduleStore(&store.Schedule{ID: "fresh", WorkflowID: "a", CronExpression: "0 * * * *", Enabled: true})
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)

	sched.tick(context.Background())
	assert.Equal(t, 1, runner.callCount())
	assert.NotNil(t, ms.get("fresh").NextRunAt)
}

func TestRunDue_RecordsFailures(t *testing.T) {
	t.Run("failed execution", func(t *testing.T) {
		ms := newMockScheduleStore(&store.Schedule{ID: "s", WorkflowID: "a", CronExpression: "0 * * * *", Enabled: true})
		runner := &mockRunner{status: schema.ExecutionStatusFailed, err: assert.AnError}
		newTestScheduler(ms, runner).tick(context.Background())

		got := ms.get("s")
		assert.Equal(t, "failed", got.LastRunStatus)
		assert.Equal(t, "run-a", got.LastExecutionID)
		assert.True(t, got.Enabled)
	})

	t.Run("no execution", func(t *testing.T) {
		ms := newMockScheduleStore(&store.Schedule{ID: "s", WorkflowID: "gone", CronExpression: "0 * * * *", Enabled: true})
		runner := &mockRunner{noRes: true, err: schema.NewError(schema.ErrCodeNotFound, "workflow not found")}
		newTestScheduler(ms, runner).tick(context.Background())

		got := ms.get("s")
		assert.Equal(t, StatusError, got.LastRunStatus)
		assert.Empty(t, got.LastExecutionID)
		assert.NotNil(t, got.NextRunAt)
	})
}

func TestRunDue_DisablesInvalidCron(t *testing.T) {
	ms := newMockScheduleStore(&store.Schedule{ID: "bad", WorkflowID: "a", CronExpression: "every tuesday", Enabled: true})
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)

	sched.tick(context.Background())

	assert.Zero(t, runner.callCount())
	got := ms.get("bad")
	assert.False(t, got.Enabled)
	assert.Equal(t, StatusInvalidCron, got.LastRunStatus)
}

func TestRecoverMissed(t *testing.T) {
	ms := newMockScheduleStore(&store.Schedule{
		ID: "missed", WorkflowID: "a", CronExpression: "0 * * * *", Enabled: true,
		NextRunAt: at(fixedNow.Add(-2 * time.Hour)),
	})
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)

	require.NoError(t, sched.RecoverMissed(context.Background()))

	assert.Equal(t, 1, runner.callCount(), "a missed schedule runs once, not once per missed slot")
	assert.True(t, ms.get("missed").NextRunAt.After(fixedNow))
}

func TestDedupPreventsDoubleRun(t *testing.T) {
	ms := newMockScheduleStore(&store.Schedule{ID: "d", WorkflowID: "a", CronExpression: "0 * * * *", Enabled: true})
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	require.True(t, sched.tryAcquire("d"))
	sched.tick(ctx)
	assert.Zero(t, runner.callCount())

	sched.release("d")
	sched.tick(ctx)
	assert.Equal(t, 1, runner.callCount())

	assert.True(t, sched.tryAcquire("d"), "released after the run")
}

func TestStartStop(t *testing.T) {
	ms := newMockScheduleStore(&store.Schedule{ID: "s", WorkflowID: "a", CronExpression: "0 * * * *", Enabled: true})
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	require.NoError(t, sched.Start(ctx))
	err := sched.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.Eventually(t, func() bool { return runner.callCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop())
}

func TestWithInterval(t *testing.T) {
	s := New(newMockScheduleStore(), &mockRunner{}, nil, WithInterval(5*time.Second))
	assert.Equal(t, 5*time.Second, s.interval)

	s = New(newMockScheduleStore(), &mockRunner{}, nil, WithInterval(0))
	assert.Equal(t, DefaultInterval, s.interval)
}
