package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailagent/internal/mail"
)

func testScheduler(t *testing.T) (*Scheduler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewScheduler(NewTaskStore(db), nil, nil, db), mock
}

func baseRequest() *mail.EmailRequest {
	return &mail.EmailRequest{
		From:      "owner@gmail.com",
		To:        "schedule@service.io",
		Subject:   "remind me",
		TextBody:  "send me a weather summary every morning",
		MessageID: "orig-1",
	}
}

func TestCreateTaskRejectsRecursion(t *testing.T) {
	s, _ := testScheduler(t)

	req := baseRequest()
	req.ScheduledTaskID = "already-a-task"
	_, err := s.CreateTask(context.Background(), req, "0 9 * * *", "daily weather", nil, nil)
	assert.True(t, errors.Is(err, mail.ErrRecursiveTask))
}

func TestCreateTaskRejectsInvalidCron(t *testing.T) {
	s, _ := testScheduler(t)

	_, err := s.CreateTask(context.Background(), baseRequest(), "not a cron", "x", nil, nil)
	assert.Error(t, err)
}

func TestCreateTaskRejectsTooFrequent(t *testing.T) {
	s, _ := testScheduler(t)

	for _, expr := range []string{"* * * * *", "*/15 * * * *", "*/59 * * * *"} {
		_, err := s.CreateTask(context.Background(), baseRequest(), expr, "x", nil, nil)
		assert.True(t, errors.Is(err, mail.ErrTaskTooFrequent), expr)
	}
}

func TestCreateTaskEnforcesOwnerQuota(t *testing.T) {
	s, mock := testScheduler(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tasks`).
		WithArgs("owner@gmail.com", StatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(MaxTasksPerOwner))

	_, err := s.CreateTask(context.Background(), baseRequest(), "0 9 * * *", "daily weather", nil, nil)
	assert.True(t, errors.Is(err, mail.ErrTaskLimitReached))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTaskStoresDistilledCopy(t *testing.T) {
	s, mock := testScheduler(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO tasks`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE tasks SET scheduler_job_id`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE tasks SET status`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := baseRequest()
	req.Attachments = []mail.EmailAttachment{{Filename: "big.pdf", SizeBytes: 1024}}

	task, err := s.CreateTask(context.Background(), req, "0 9 * * *", "daily weather summary", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusActive, task.Status)
	assert.Equal(t, "owner@gmail.com", task.OwnerEmail)
	// Stored copy drops attachments and runs under the distilled alias.
	assert.Empty(t, task.EmailRequest.Attachments)
	assert.Equal(t, "daily weather summary", task.EmailRequest.DistilledInstructions)
	assert.Equal(t, "ask", task.EmailRequest.DistilledAlias)
	// The caller's request is untouched.
	assert.Len(t, req.Attachments, 1)
}

// deletingEnqueuer deletes the firing task from inside the enqueue call,
// simulating a delete_scheduled_tasks request landing mid-execution.
type deletingEnqueuer struct {
	s      *Scheduler
	called bool
}

func (e *deletingEnqueuer) EnqueueScheduled(ctx context.Context, _ *mail.EmailRequest, taskID, _ string) error {
	e.called = true
	return e.s.DeleteTask(ctx, taskID, "owner@gmail.com")
}

func TestFireDoesNotResurrectDeletedTask(t *testing.T) {
	s, mock := testScheduler(t)
	enq := &deletingEnqueuer{s: s}
	s.enqueuer = enq

	payload, err := json.Marshal(baseRequest())
	require.NoError(t, err)
	now := time.Now()
	mock.ExpectQuery(`SELECT task_id, owner_email`).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"task_id", "owner_email", "cron_expression", "scheduler_job_id",
			"status", "email_request", "start_time", "expiry_time", "created_at", "updated_at",
		}).AddRow("task-1", "owner@gmail.com", "0 9 * * *", "", StatusActive, payload, nil, nil, now, now))
	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`UPDATE tasks SET status = \$3`).
		WithArgs("task-1", StatusActive, StatusExecuting).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO task_runs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// The mid-execution delete lands while the task is EXECUTING.
	mock.ExpectQuery(`SELECT owner_email FROM tasks`).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_email"}).AddRow("owner@gmail.com"))
	mock.ExpectExec(`UPDATE tasks SET status = \$2`).
		WithArgs("task-1", StatusDeleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// The post-execution transition is conditional on EXECUTING, so the
	// DELETED row stays put.
	mock.ExpectExec(`UPDATE tasks SET status = \$3`).
		WithArgs("task-1", StatusExecuting, StatusActive).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s.fire("task-1")
	assert.True(t, enq.called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTaskOwnership(t *testing.T) {
	s, mock := testScheduler(t)

	mock.ExpectQuery(`SELECT owner_email FROM tasks`).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_email"}).AddRow("owner@gmail.com"))

	err := s.DeleteTask(context.Background(), "task-1", "intruder@gmail.com")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTaskIdempotent(t *testing.T) {
	s, mock := testScheduler(t)

	// Unknown (or already purged) task deletes as a no-op.
	mock.ExpectQuery(`SELECT owner_email FROM tasks`).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"owner_email"}))

	assert.NoError(t, s.DeleteTask(context.Background(), "gone", "owner@gmail.com"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
