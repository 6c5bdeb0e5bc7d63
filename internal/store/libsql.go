package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/nodeflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*LibSQLStore)(nil)

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db); err != nil {
		return storeErr("migrate", err)
	}
	return nil
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return storeErr("vacuum", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// --- Workflows ---

const workflowColumns = `id, name, description, definition, created_at, updated_at`

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	def, err := json.Marshal(wf.Workflow)
	if err != nil {
		return storeErr("marshal workflow definition", err)
	}
	now := s.now()
	wf.CreatedAt = timeOr(wf.CreatedAt, now)
	wf.UpdatedAt = timeOr(wf.UpdatedAt, now)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, nullStr(wf.Description), string(def), wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return writeErr(err, "workflow", wf.ID)
	}
	return nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, storeErr("get workflow", err)
	}
	return wf, nil
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, wf *Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	def, err := json.Marshal(wf.Workflow)
	if err != nil {
		return storeErr("marshal workflow definition", err)
	}
	wf.UpdatedAt = s.now()

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET name = ?, description = ?, definition = ?, updated_at = ? WHERE id = ?`,
		wf.Name, nullStr(wf.Description), string(def), wf.UpdatedAt, wf.ID,
	)
	if err != nil {
		return storeErr("update workflow", err)
	}
	return checkRowsAffected(res, "workflow", wf.ID)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows ORDER BY name ASC, id ASC` +
		limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeErr("list workflows", err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, storeErr("scan workflow", err)
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list workflows", err)
	}
	return workflows, nil
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete workflow", err)
	}
	return checkRowsAffected(res, "workflow", id)
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	var (
		description sql.NullString
		defJSON     string
		id, name    string
	)
	if err := row.Scan(&id, &name, &description, &defJSON, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(defJSON), &wf.Workflow); err != nil {
		return nil, fmt.Errorf("unmarshal definition of %s: %w", id, err)
	}
	wf.ID = id
	wf.Name = name
	wf.Description = description.String
	return wf, nil
}

// --- Tools ---

const toolColumns = `id, name, description, category, runtime, code, parameters, outputs, timeout, created_at, updated_at`

func (s *LibSQLStore) CreateTool(ctx context.Context, def *schema.ToolDefinition) error {
	if def == nil || def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool id is required")
	}
	params, outputs, err := marshalParams(def)
	if err != nil {
		return err
	}
	now := s.now()
	def.CreatedAt = timeOr(def.CreatedAt, now)
	def.UpdatedAt = timeOr(def.UpdatedAt, now)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tools (`+toolColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Name, nullStr(def.Description), nullStr(def.Category), def.EffectiveRuntime(),
		def.Code, params, outputs, nullStr(def.Timeout), def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		return writeErr(err, "tool", def.ID)
	}
	return nil
}

// GetTool loads a tool definition. It satisfies tools.DefinitionSource.
func (s *LibSQLStore) GetTool(ctx context.Context, id string) (*schema.ToolDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+toolColumns+` FROM tools WHERE id = ?`, id)
	def, err := scanTool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("tool", id)
	}
	if err != nil {
		return nil, storeErr("get tool", err)
	}
	return def, nil
}

func (s *LibSQLStore) UpdateTool(ctx context.Context, def *schema.ToolDefinition) error {
	if def == nil || def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool id is required")
	}
	params, outputs, err := marshalParams(def)
	if err != nil {
		return err
	}
	def.UpdatedAt = s.now()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tools SET name = ?, description = ?, category = ?, runtime = ?, code = ?,
		 parameters = ?, outputs = ?, timeout = ?, updated_at = ? WHERE id = ?`,
		def.Name, nullStr(def.Description), nullStr(def.Category), def.EffectiveRuntime(), def.Code,
		params, outputs, nullStr(def.Timeout), def.UpdatedAt, def.ID,
	)
	if err != nil {
		return storeErr("update tool", err)
	}
	return checkRowsAffected(res, "tool", def.ID)
}

func (s *LibSQLStore) ListTools(ctx context.Context, filter ToolFilter) ([]*schema.ToolDefinition, error) {
	var where []string
	var args []any
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}

	query := `SELECT ` + toolColumns + ` FROM tools`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY category ASC, name ASC" + limitClause(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list tools", err)
	}
	defer rows.Close()

	var defs []*schema.ToolDefinition
	for rows.Next() {
		def, err := scanTool(rows)
		if err != nil {
			return nil, storeErr("scan tool", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list tools", err)
	}
	return defs, nil
}

func (s *LibSQLStore) DeleteTool(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tools WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete tool", err)
	}
	return checkRowsAffected(res, "tool", id)
}

func scanTool(row rowScanner) (*schema.ToolDefinition, error) {
	def := &schema.ToolDefinition{}
	var (
		description, category, timeout sql.NullString
		params, outputs                string
	)
	if err := row.Scan(&def.ID, &def.Name, &description, &category, &def.Runtime, &def.Code,
		&params, &outputs, &timeout, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return nil, err
	}
	def.Description = description.String
	def.Category = category.String
	def.Timeout = timeout.String
	if err := json.Unmarshal([]byte(params), &def.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters of %s: %w", def.ID, err)
	}
	if err := json.Unmarshal([]byte(outputs), &def.Outputs); err != nil {
		return nil, fmt.Errorf("unmarshal outputs of %s: %w", def.ID, err)
	}
	return def, nil
}

func marshalParams(def *schema.ToolDefinition) (string, string, error) {
	params, err := json.Marshal(orEmpty(def.Parameters))
	if err != nil {
		return "", "", storeErr("marshal parameters", err)
	}
	outputs, err := json.Marshal(orEmpty(def.Outputs))
	if err != nil {
		return "", "", storeErr("marshal outputs", err)
	}
	return string(params), string(outputs), nil
}

func orEmpty(p []schema.ParameterSpec) []schema.ParameterSpec {
	if p == nil {
		return []schema.ParameterSpec{}
	}
	return p
}

// --- Executions ---

const executionColumns = `id, workflow_id, status, input, output, context, error, started_at, completed_at`

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *Execution) error {
	if exec == nil || exec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution id is required")
	}
	if exec.Status == "" {
		exec.Status = schema.ExecutionStatusRunning
	}
	input, err := marshalMapOrDefault(exec.Input)
	if err != nil {
		return storeErr("marshal execution input", err)
	}
	exec.StartedAt = timeOr(exec.StartedAt, s.now())

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, status, input, started_at) VALUES (?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, string(exec.Status), string(input), exec.StartedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return storeNotFound("workflow", exec.WorkflowID)
		}
		return writeErr(err, "execution", exec.ID)
	}
	return nil
}

// FinishExecution records the outcome of a run and appends its log in one
// transaction. Only a running execution can be finished; a second call
// returns CONFLICT.
func (s *LibSQLStore) FinishExecution(ctx context.Context, id string, result *schema.ExecutionResult) error {
	if result == nil {
		return schema.NewError(schema.ErrCodeValidation, "execution result is nil")
	}
	if result.Status != schema.ExecutionStatusCompleted && result.Status != schema.ExecutionStatusFailed {
		return schema.NewErrorf(schema.ErrCodeValidation, "cannot finish execution with status %q", result.Status)
	}

	output, err := marshalNullable(result.Output)
	if err != nil {
		return storeErr("marshal execution output", err)
	}
	snapshot, err := marshalNullable(result.Context)
	if err != nil {
		return storeErr("marshal execution context", err)
	}
	var flowErr any
	if result.Error != nil {
		if flowErr, err = marshalNullable(result.Error); err != nil {
			return storeErr("marshal execution error", err)
		}
	}
	completedAt := timeOr(result.CompletedAt, s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE executions SET status = ?, output = ?, context = ?, error = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(result.Status), output, snapshot, flowErr, completedAt, id, string(schema.ExecutionStatusRunning),
	)
	if err != nil {
		return storeErr("finish execution", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("finish execution", err)
	}
	if n == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return storeNotFound("execution", id)
		}
		if err != nil {
			return storeErr("finish execution", err)
		}
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q is already %s", id, status)
	}

	if err := appendLogs(ctx, tx, id, result.Log); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit execution", err)
	}
	return nil
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, storeErr("get execution", err)
	}

	records, err := s.GetExecutionLogs(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		exec.Logs = append(exec.Logs, r.LogEntry)
	}
	return exec, nil
}

// ListExecutions returns executions newest first, without their logs.
func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC" + limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list executions", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, storeErr("scan execution", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list executions", err)
	}
	return out, nil
}

func scanExecution(row rowScanner) (*Execution, error) {
	exec := &Execution{}
	var (
		status                       string
		inputJSON                    string
		outputJSON, ctxJSON, errJSON sql.NullString
		completedAt                  sql.NullTime
	)
	if err := row.Scan(&exec.ID, &exec.WorkflowID, &status, &inputJSON, &outputJSON, &ctxJSON, &errJSON,
		&exec.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	exec.Status = schema.ExecutionStatus(status)
	if inputJSON != "" {
		if err := json.Unmarshal([]byte(inputJSON), &exec.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input of %s: %w", exec.ID, err)
		}
	}
	if outputJSON.Valid {
		if err := json.Unmarshal([]byte(outputJSON.String), &exec.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output of %s: %w", exec.ID, err)
		}
	}
	if ctxJSON.Valid {
		if err := json.Unmarshal([]byte(ctxJSON.String), &exec.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context of %s: %w", exec.ID, err)
		}
	}
	if errJSON.Valid {
		exec.Error = &schema.FlowError{}
		if err := json.Unmarshal([]byte(errJSON.String), exec.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error of %s: %w", exec.ID, err)
		}
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	return exec, nil
}

// --- Run logs ---

// appendLogs appends entries after the execution's last sequence number.
func appendLogs(ctx context.Context, tx *sql.Tx, executionID string, entries []schema.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM execution_logs WHERE execution_id = ?`, executionID,
	).Scan(&seq); err != nil {
		return storeErr("get next log sequence", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO execution_logs (execution_id, sequence, level, message, node_id, detail, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return storeErr("prepare log insert", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		seq++
		if _, err := stmt.ExecContext(ctx, executionID, seq, string(e.Level), e.Message,
			nullStr(e.NodeID), nullStr(e.Detail), e.Timestamp.UTC()); err != nil {
			return storeErr("insert log entry", err)
		}
	}
	return nil
}

// GetExecutionLogs returns the log entries of an execution with sequence > since,
// in order. A gap in the sequence is reported as STORE_ERROR.
func (s *LibSQLStore) GetExecutionLogs(ctx context.Context, executionID string, since int64) ([]*LogRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, sequence, level, message, node_id, detail, timestamp
		 FROM execution_logs WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, storeErr("get execution logs", err)
	}
	defer rows.Close()

	records, err := scanLogs(rows)
	if err != nil {
		return nil, err
	}
	for i, r := range records {
		if want := since + int64(i) + 1; r.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"log sequence gap in execution %s: expected %d, got %d", executionID, want, r.Sequence)
		}
	}
	return records, nil
}

// ListLogs returns log entries across executions, newest first.
func (s *LibSQLStore) ListLogs(ctx context.Context, filter LogFilter) ([]*LogRecord, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "e.workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.NodeID != "" {
		where = append(where, "l.node_id = ?")
		args = append(args, filter.NodeID)
	}
	if filter.Level != "" {
		where = append(where, "l.level = ?")
		args = append(args, string(filter.Level))
	}
	if filter.Since != nil {
		where = append(where, "l.timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT l.execution_id, l.sequence, l.level, l.message, l.node_id, l.detail, l.timestamp
		FROM execution_logs l JOIN executions e ON e.id = l.execution_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY l.timestamp DESC, l.id DESC" + limitClause(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list logs", err)
	}
	defer rows.Close()
	return scanLogs(rows)
}

func scanLogs(rows *sql.Rows) ([]*LogRecord, error) {
	var records []*LogRecord
	for rows.Next() {
		r := &LogRecord{}
		var level string
		var nodeID, detail sql.NullString
		if err := rows.Scan(&r.ExecutionID, &r.Sequence, &level, &r.Message, &nodeID, &detail, &r.Timestamp); err != nil {
			return nil, storeErr("scan log entry", err)
		}
		r.Level = schema.LogLevel(level)
		r.NodeID = nodeID.String
		r.Detail = detail.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("scan log entries", err)
	}
	return records, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id).
		WithDetails(map[string]any{"resource": resource, "id": id})
}

func storeErr(op string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

// writeErr maps an insert failure: a duplicate key becomes CONFLICT.
func writeErr(err error, resource, id string) error {
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "%s %q already exists", resource, id).
			WithDetails(map[string]any{"resource": resource, "id": id}).WithCause(err)
	}
	return storeErr("insert "+resource, err)
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func limitClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	clause := fmt.Sprintf(" LIMIT %d", limit)
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

func timeOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
