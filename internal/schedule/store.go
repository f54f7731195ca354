package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailagent/internal/mail"
)

// TaskStore persists scheduled tasks and their runs in Postgres.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore wraps the given database handle.
func NewTaskStore(db *sql.DB) *TaskStore { return &TaskStore{db: db} }

// EnsureSchema creates the tasks and task_runs tables when missing.
func (s *TaskStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			task_id UUID PRIMARY KEY,
			owner_email TEXT NOT NULL,
			cron_expression TEXT NOT NULL,
			scheduler_job_id TEXT,
			status TEXT NOT NULL DEFAULT 'INITIALISED',
			email_request JSONB NOT NULL,
			start_time TIMESTAMPTZ,
			expiry_time TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_owner_status ON tasks (owner_email, status);
		CREATE TABLE IF NOT EXISTS task_runs (
			run_id UUID PRIMARY KEY,
			task_id UUID NOT NULL REFERENCES tasks(task_id),
			status TEXT NOT NULL DEFAULT 'INITIALISED',
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
	`)
	return err
}

// Create inserts a task in INITIALISED state.
func (s *TaskStore) Create(ctx context.Context, t *Task) error {
	payload, err := json.Marshal(t.EmailRequest)
	if err != nil {
		return fmt.Errorf("marshal task email request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, owner_email, cron_expression, status, email_request, start_time, expiry_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.TaskID, t.OwnerEmail, t.CronExpression, StatusInitialised, payload, t.StartTime, t.ExpiryTime)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// SetStatus updates a task's status, bumping updated_at as a soft version.
func (s *TaskStore) SetStatus(ctx context.Context, taskID, status string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $2, updated_at = NOW() WHERE task_id = $1
	`, taskID, status)
	return err
}

// TransitionStatus moves a task from one status to another. The update is
// conditional on the current status, so a concurrent transition (a delete
// landing mid-execution) is never overwritten. Returns whether the row moved.
func (s *TaskStore) TransitionStatus(ctx context.Context, taskID, from, to string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $3, updated_at = NOW() WHERE task_id = $1 AND status = $2
	`, taskID, from, to)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetJobID records the in-process cron entry id for a task.
func (s *TaskStore) SetJobID(ctx context.Context, taskID, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET scheduler_job_id = $2, updated_at = NOW() WHERE task_id = $1
	`, taskID, jobID)
	return err
}

// CountActiveForOwner counts the owner's ACTIVE tasks (quota check).
func (s *TaskStore) CountActiveForOwner(ctx context.Context, owner string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks WHERE owner_email = $1 AND status = $2
	`, owner, StatusActive).Scan(&n)
	return n, err
}

// Get loads one task by id.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*Task, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, owner_email, cron_expression, COALESCE(scheduler_job_id, ''),
		       status, email_request, start_time, expiry_time, created_at, updated_at
		FROM tasks WHERE task_id = $1
	`, taskID)
	return scanTask(row)
}

// ListActive loads all ACTIVE tasks (startup registration).
func (s *TaskStore) ListActive(ctx context.Context) ([]*Task, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, owner_email, cron_expression, COALESCE(scheduler_job_id, ''),
		       status, email_request, start_time, expiry_time, created_at, updated_at
		FROM tasks WHERE status = $1
	`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var payload []byte
	var start, expiry sql.NullTime
	err := row.Scan(&t.TaskID, &t.OwnerEmail, &t.CronExpression, &t.SchedulerJobID,
		&t.Status, &payload, &start, &expiry, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.EmailRequest = &mail.EmailRequest{}
	if err := json.Unmarshal(payload, t.EmailRequest); err != nil {
		return nil, fmt.Errorf("decode task %s email request: %w", t.TaskID, err)
	}
	if start.Valid {
		t.StartTime = &start.Time
	}
	if expiry.Valid {
		t.ExpiryTime = &expiry.Time
	}
	return &t, nil
}

// SoftDelete marks a task DELETED when the owner matches. Idempotent: a
// second delete affects zero rows and still reports success.
func (s *TaskStore) SoftDelete(ctx context.Context, taskID, owner string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Ownership check is separate from the update so a mismatch can be
	// distinguished from an already-deleted task.
	var storedOwner string
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_email FROM tasks WHERE task_id = $1
	`, taskID).Scan(&storedOwner)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load task owner: %w", err)
	}
	if storedOwner != owner {
		return false, fmt.Errorf("task %s is not owned by %s", taskID, owner)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $2, updated_at = NOW()
		WHERE task_id = $1 AND status != $2
	`, taskID, StatusDeleted)
	return err == nil, err
}

// OpenRun inserts an IN_PROGRESS run for a task and returns its id.
func (s *TaskStore) OpenRun(ctx context.Context, taskID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	runID := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (run_id, task_id, status) VALUES ($1, $2, $3)
	`, runID, taskID, RunInProgress)
	if err != nil {
		return "", fmt.Errorf("open task run: %w", err)
	}
	return runID, nil
}

// CloseRun finalizes a run as COMPLETED or ERRORED.
func (s *TaskStore) CloseRun(ctx context.Context, runID, status string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_runs SET status = $2, finished_at = NOW() WHERE run_id = $1
	`, runID, status)
	return err
}
