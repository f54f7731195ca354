package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailagent/internal/mail"
)

// Queue semantics: at-least-once delivery over a Postgres table. A claim
// flips status to processing with FOR UPDATE SKIP LOCKED; a crashed worker's
// claim is reclaimed once locked_at passes the job time budget. Exactly-once
// is not claimed here; the idempotency markers in kv carry that burden.
const (
	// MaxRetries before a job is dead-lettered.
	MaxRetries = 3

	// MinBackoff is the first retry delay; subsequent retries double it.
	MinBackoff = 60 * time.Second

	// MaxBackoff caps the exponential backoff.
	MaxBackoff = 15 * time.Minute

	// JobTimeBudget is the hard wall-clock budget per claim. A claim older
	// than this is considered abandoned and becomes claimable again.
	JobTimeBudget = 10 * time.Minute
)

// Job is one dequeued unit of work.
type Job struct {
	ID              uuid.UUID
	MessageID       string
	Request         *mail.EmailRequest
	AttachmentsDir  string
	ScheduledTaskID string
	TaskRunID       string
	Attempts        int
	EnqueuedAt      time.Time
}

// Queue is the durable FIFO work queue.
type Queue struct {
	db *sql.DB
}

// New wraps the given database handle.
func New(db *sql.DB) *Queue { return &Queue{db: db} }

// EnsureSchema creates the queue table when missing.
func (q *Queue) EnsureSchema(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agent_email_queue (
			id UUID PRIMARY KEY,
			message_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			attachments_dir TEXT NOT NULL DEFAULT '',
			scheduled_task_id TEXT NOT NULL DEFAULT '',
			task_run_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'queued',
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			locked_at TIMESTAMPTZ,
			worker_id TEXT,
			error_message TEXT,
			enqueued_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_agent_email_queue_claim
			ON agent_email_queue (status, next_attempt_at);
	`)
	return err
}

// Enqueue inserts a job for the given request. Returns the job id.
func (q *Queue) Enqueue(ctx context.Context, req *mail.EmailRequest, attachmentsDir string) (uuid.UUID, error) {
	return q.enqueue(ctx, req, attachmentsDir, "", "")
}

// EnqueueScheduled inserts a re-injected job for a scheduled task firing.
// Satisfies schedule.Enqueuer.
func (q *Queue) EnqueueScheduled(ctx context.Context, req *mail.EmailRequest, taskID, runID string) error {
	_, err := q.enqueue(ctx, req, "", taskID, runID)
	return err
}

func (q *Queue) enqueue(ctx context.Context, req *mail.EmailRequest, attachmentsDir, taskID, runID string) (uuid.UUID, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal email request: %w", err)
	}

	id := uuid.New()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO agent_email_queue
			(id, message_id, payload, attachments_dir, scheduled_task_id, task_run_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, req.MessageID, payload, attachmentsDir, taskID, runID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// Claim atomically claims the oldest due job for workerID. Returns nil when
// the queue is empty. Jobs whose previous claim exceeded the time budget are
// claimable again.
func (q *Queue) Claim(ctx context.Context, workerID string) (*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := q.db.QueryRowContext(ctx, `
		WITH claimed AS (
			UPDATE agent_email_queue
			SET status = 'processing', worker_id = $1, locked_at = NOW()
			WHERE id = (
				SELECT id FROM agent_email_queue
				WHERE (status = 'queued' AND next_attempt_at <= NOW())
				   OR (status = 'processing' AND locked_at < NOW() - $2::interval)
				ORDER BY enqueued_at ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, message_id, payload, attachments_dir, scheduled_task_id, task_run_id, attempts, enqueued_at
		)
		SELECT * FROM claimed
	`, workerID, fmt.Sprintf("%d seconds", int(JobTimeBudget.Seconds())))

	var job Job
	var payload []byte
	err := row.Scan(&job.ID, &job.MessageID, &payload, &job.AttachmentsDir,
		&job.ScheduledTaskID, &job.TaskRunID, &job.Attempts, &job.EnqueuedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	job.Request = &mail.EmailRequest{}
	if err := json.Unmarshal(payload, job.Request); err != nil {
		// Unparseable payloads can never succeed; bury immediately.
		q.buryJob(ctx, job.ID, fmt.Sprintf("unparseable payload: %v", err))
		return nil, fmt.Errorf("decode job %s payload: %w", job.ID, err)
	}
	return &job, nil
}

// Ack marks a job completed.
func (q *Queue) Ack(ctx context.Context, jobID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := q.db.ExecContext(ctx, `
		UPDATE agent_email_queue
		SET status = 'completed', locked_at = NULL
		WHERE id = $1
	`, jobID)
	return err
}

// Nack returns a job to the queue with exponential backoff, or dead-letters
// it once MaxRetries is reached. Returns true when the job was dead-lettered.
func (q *Queue) Nack(ctx context.Context, jobID uuid.UUID, attempts int, errMsg string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if attempts+1 >= MaxRetries {
		if err := q.buryJob(ctx, jobID, errMsg); err != nil {
			return false, err
		}
		log.Printf("[Queue] Job %s dead-lettered after %d attempts: %s", jobID, attempts+1, errMsg)
		return true, nil
	}

	backoff := MinBackoff << attempts
	if backoff > MaxBackoff {
		backoff = MaxBackoff
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE agent_email_queue
		SET status = 'queued',
		    attempts = attempts + 1,
		    next_attempt_at = NOW() + $2::interval,
		    locked_at = NULL,
		    error_message = $3
		WHERE id = $1
	`, jobID, fmt.Sprintf("%d seconds", int(backoff.Seconds())), errMsg)
	return false, err
}

func (q *Queue) buryJob(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE agent_email_queue
		SET status = 'dead_letter', attempts = attempts + 1, locked_at = NULL, error_message = $2
		WHERE id = $1
	`, jobID, errMsg)
	return err
}

// Depth returns the number of jobs waiting or in flight, for health checks.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM agent_email_queue WHERE status IN ('queued', 'processing')
	`).Scan(&n)
	return n, err
}

// Ping verifies the queue's database connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return q.db.PingContext(ctx)
}
