package schedule

import (
	"time"

	"github.com/ignite/mailagent/internal/mail"
)

// Task statuses. Transitions: INITIALISED → ACTIVE → {EXECUTING ↔ ACTIVE} →
// {FINISHED | DELETED}. Terminal states stop firing. Deletion is soft.
const (
	StatusInitialised = "INITIALISED"
	StatusActive      = "ACTIVE"
	StatusExecuting   = "EXECUTING"
	StatusFinished    = "FINISHED"
	StatusDeleted     = "DELETED"
)

// TaskRun statuses.
const (
	RunInitialised = "INITIALISED"
	RunInProgress  = "IN_PROGRESS"
	RunCompleted   = "COMPLETED"
	RunErrored     = "ERRORED"
)

// Policy limits.
const (
	// MaxTasksPerOwner is the cap on ACTIVE tasks per owner email.
	MaxTasksPerOwner = 5

	// MinFireInterval is the minimum allowed interval between consecutive
	// firings of any task.
	MinFireInterval = time.Hour
)

// Task is one persisted scheduled task. EmailRequest is the stored request
// that gets rehydrated and re-injected on each firing.
type Task struct {
	TaskID         string
	OwnerEmail     string
	CronExpression string
	SchedulerJobID string
	Status         string
	EmailRequest   *mail.EmailRequest
	StartTime      *time.Time
	ExpiryTime     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EligibleAt reports whether the task may fire at instant t: ACTIVE, inside
// its [start, expiry] window. Cron matching is the engine's concern.
func (t *Task) EligibleAt(now time.Time) bool {
	if t.Status != StatusActive {
		return false
	}
	if t.StartTime != nil && now.Before(*t.StartTime) {
		return false
	}
	if t.ExpiryTime != nil && now.After(*t.ExpiryTime) {
		return false
	}
	return true
}

// TaskRun is one firing of a task.
type TaskRun struct {
	RunID      string
	TaskID     string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}
