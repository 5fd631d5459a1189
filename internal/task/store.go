package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists tasks and their run history in SQLite.
type Store struct {
	db          *sql.DB
	maxAttempts int
}

// NewStore wraps db. defaultMaxAttempts applies to tasks created without an
// explicit attempt limit; values <= 0 fall back to 4.
func NewStore(db *sql.DB, defaultMaxAttempts int) *Store {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 4
	}
	return &Store{db: db, maxAttempts: defaultMaxAttempts}
}

// Create inserts a new task in the pending state.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("task name is empty")
	}
	if req.Plugin == "" {
		return nil, fmt.Errorf("plugin is empty")
	}
	if req.Action == "" {
		return nil, fmt.Errorf("action is empty")
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}

	now := time.Now().UTC()
	t := &Task{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Plugin:      req.Plugin,
		Action:      req.Action,
		Payload:     req.Payload,
		Enabled:     true,
		Status:      StatusPending,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var payload any
	if len(t.Payload) > 0 {
		payload = string(t.Payload)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks(
  id, name, plugin, action, payload, enabled, status, attempt, max_attempts,
  created_at, updated_at
)
VALUES(?, ?, ?, ?, ?, 1, ?, 0, ?, ?, ?);
`, t.ID, t.Name, t.Plugin, t.Action, payload, t.Status, t.MaxAttempts,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// Get returns a task by id.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, selectTask+" WHERE id = ?;", id)
	return scanTask(row)
}

// GetByName returns a task by its unique name.
func (s *Store) GetByName(ctx context.Context, name string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, selectTask+" WHERE name = ?;", name)
	return scanTask(row)
}

// List returns all tasks ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTask+" ORDER BY created_at ASC, rowid ASC;")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SetEnabled toggles a task. Disabling a pending task parks it as idle.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	status := StatusIdle
	if enabled {
		status = StatusPending
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks
SET enabled = ?, status = ?, updated_at = ?
WHERE id = ? AND status NOT IN (?, ?);
`, enabled, status, formatTime(time.Now().UTC()), id, StatusRunning, StatusSucceeded)
	if err != nil {
		return fmt.Errorf("update task enabled: %w", err)
	}
	return requireRow(res, s, ctx, id)
}

// Requeue resets a terminal task so the runner picks it up again.
func (s *Store) Requeue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks
SET status = ?, attempt = 0, next_retry_at = NULL, last_error = NULL, updated_at = ?
WHERE id = ? AND enabled = 1;
`, StatusPending, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	return requireRow(res, s, ctx, id)
}

// Delete removes a task and its run history.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?;", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimDue claims the oldest due pending task and marks it running.
// Returns (nil, nil) when nothing is due.
func (s *Store) ClaimDue(ctx context.Context, now time.Time) (*Task, error) {
	nowS := formatTime(now.UTC())
	row := s.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM tasks
  WHERE status = ? AND enabled = 1 AND (next_retry_at IS NULL OR next_retry_at <= ?)
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE tasks
SET status = ?, attempt = attempt + 1, updated_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING `+taskColumns+`;
`, StatusPending, nowS, StatusRunning, nowS)

	t, err := scanTask(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return t, err
}

// CompleteSuccess records a successful run and marks the task succeeded.
func (s *Store) CompleteSuccess(ctx context.Context, t *Task, result string, startedAt time.Time) error {
	return s.complete(ctx, t, StatusSucceeded, &result, nil, nil, startedAt)
}

// CompleteFailure records a failed run. When attempts remain the task goes
// back to pending with nextRetryAt set, otherwise it is marked failed.
func (s *Store) CompleteFailure(ctx context.Context, t *Task, execErr string, nextRetryAt *time.Time, startedAt time.Time) error {
	status := StatusFailed
	if nextRetryAt != nil {
		status = StatusPending
	}
	return s.complete(ctx, t, status, nil, &execErr, nextRetryAt, startedAt)
}

func (s *Store) complete(ctx context.Context, t *Task, status Status, result, execErr *string, nextRetryAt *time.Time, startedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var retryS any
	if nextRetryAt != nil {
		retryS = formatTime(nextRetryAt.UTC())
	}

	_, err = tx.ExecContext(ctx, `
UPDATE tasks
SET status = ?, next_retry_at = ?, last_result = ?, last_error = ?, updated_at = ?
WHERE id = ?;
`, status, retryS, result, execErr, formatTime(now), t.ID)
	if err != nil {
		return fmt.Errorf("update task completion: %w", err)
	}

	runStatus := StatusSucceeded
	if execErr != nil {
		runStatus = StatusFailed
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO task_runs(id, task_id, plugin, action, attempt, status, result, error, started_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), t.ID, t.Plugin, t.Action, t.Attempt, runStatus, result, execErr,
		formatTime(startedAt.UTC()), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert task run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Runs returns the run history for a task, newest first.
func (s *Store) Runs(ctx context.Context, taskID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, task_id, plugin, action, attempt, status, result, error, started_at, completed_at
FROM task_runs
WHERE task_id = ?
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list task runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			r          Run
			result     sql.NullString
			runErr     sql.NullString
			statusS    string
			startedS   string
			completedS string
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Plugin, &r.Action, &r.Attempt, &statusS,
			&result, &runErr, &startedS, &completedS); err != nil {
			return nil, fmt.Errorf("scan task run: %w", err)
		}
		r.Status = Status(statusS)
		if result.Valid {
			r.Result = &result.String
		}
		if runErr.Valid {
			r.Error = &runErr.String
		}
		r.StartedAt = parseTime(startedS)
		r.CompletedAt = parseTime(completedS)
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// RecoverOrphans finds tasks left running by a previous process and returns
// them to pending so the runner retries them.
func (s *Store) RecoverOrphans(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks
SET status = ?, last_error = 'recovered after unclean shutdown', updated_at = ?
WHERE status = ?;
`, StatusPending, formatTime(time.Now().UTC()), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recover orphaned tasks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const taskColumns = `id, name, plugin, action, payload, enabled, status, attempt, max_attempts,
  next_retry_at, last_result, last_error, created_at, updated_at`

const selectTask = "SELECT " + taskColumns + " FROM tasks"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t          Task
		payload    sql.NullString
		statusS    string
		retryS     sql.NullString
		lastResult sql.NullString
		lastError  sql.NullString
		createdS   string
		updatedS   string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Plugin, &t.Action, &payload, &t.Enabled, &statusS,
		&t.Attempt, &t.MaxAttempts, &retryS, &lastResult, &lastError, &createdS, &updatedS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.Status = Status(statusS)
	if payload.Valid {
		t.Payload = []byte(payload.String)
	}
	if retryS.Valid {
		ts := parseTime(retryS.String)
		t.NextRetryAt = &ts
	}
	if lastResult.Valid {
		t.LastResult = &lastResult.String
	}
	if lastError.Valid {
		t.LastError = &lastError.String
	}
	t.CreatedAt = parseTime(createdS)
	t.UpdatedAt = parseTime(updatedS)
	return &t, nil
}

func requireRow(res sql.Result, s *Store, ctx context.Context, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
