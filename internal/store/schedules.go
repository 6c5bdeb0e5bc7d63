package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

const scheduleColumns = `id, workflow_id, cron_expression, input, enabled, last_run_at, next_run_at, ` +
	`last_run_status, last_execution_id, created_at`

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	if sched == nil || sched.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule id is required")
	}
	if sched.CronExpression == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule cron expression is required")
	}
	input, err := marshalMapOrDefault(sched.Input)
	if err != nil {
		return storeErr("marshal schedule input", err)
	}
	sched.CreatedAt = timeOr(sched.CreatedAt, s.now())

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules (`+scheduleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.WorkflowID, sched.CronExpression, string(input), boolInt(sched.Enabled),
		nullTime(sched.LastRunAt), nullTime(sched.NextRunAt), nullStr(sched.LastRunStatus), nullStr(sched.LastExecutionID),
		sched.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return storeNotFound("workflow", sched.WorkflowID)
		}
		return writeErr(err, "schedule", sched.ID)
	}
	return nil
}

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("schedule", id)
	}
	if err != nil {
		return nil, storeErr("get schedule", err)
	}
	return sched, nil
}

func (s *LibSQLStore) UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	var (
		sets []string
		args []any
	)
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, update.LastRunAt.UTC())
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, update.NextRunAt.UTC())
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if update.LastExecutionID != "" {
		sets = append(sets, "last_execution_id = ?")
		args = append(args, update.LastExecutionID)
	}
	if len(sets) == 0 {
		_, err := s.GetSchedule(ctx, id)
		return err
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return storeErr("update schedule", err)
	}
	return checkRowsAffected(res, "schedule", id)
}

// ListSchedules returns schedules ordered by next run, unscheduled ones last.
func (s *LibSQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	var (
		where []string
		args  []any
	)
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}

	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY next_run_at IS NULL, next_run_at ASC, id ASC` + limitClause(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list schedules", err)
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, storeErr("scan schedule", err)
		}
		out = append(out, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list schedules", err)
	}
	return out, nil
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete schedule", err)
	}
	return checkRowsAffected(res, "schedule", id)
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	sched := &Schedule{}
	var (
		inputJSON          string
		enabled            int64
		lastRun, nextRun   sql.NullTime
		lastStatus, lastID sql.NullString
	)
	if err := row.Scan(&sched.ID, &sched.WorkflowID, &sched.CronExpression, &inputJSON, &enabled,
		&lastRun, &nextRun, &lastStatus, &lastID, &sched.CreatedAt); err != nil {
		return nil, err
	}
	if inputJSON != "" && inputJSON != "{}" {
		if err := json.Unmarshal([]byte(inputJSON), &sched.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input of schedule %s: %w", sched.ID, err)
		}
	}
	sched.Enabled = enabled != 0
	if lastRun.Valid {
		sched.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		sched.NextRunAt = &nextRun.Time
	}
	sched.LastRunStatus = lastStatus.String
	sched.LastExecutionID = lastID.String
	return sched, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
