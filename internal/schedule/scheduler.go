package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/ignite/mailagent/internal/mail"
	"github.com/ignite/mailagent/internal/pkg/distlock"
)

// Enqueuer re-injects a rehydrated request into the main work queue.
// Implemented by queue.Queue.
type Enqueuer interface {
	EnqueueScheduled(ctx context.Context, req *mail.EmailRequest, taskID, runID string) error
}

// Scheduler owns the in-process cron engine and the task lifecycle. One
// instance runs per worker process; a distributed lock per task keeps
// multi-instance deployments from double-firing.
type Scheduler struct {
	store       *TaskStore
	enqueuer    Enqueuer
	redisClient *redis.Client
	db          *sql.DB
	cron        *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewScheduler creates a scheduler. redisClient may be nil; the task-firing
// lock then falls back to PG advisory locks on db.
func NewScheduler(store *TaskStore, enqueuer Enqueuer, redisClient *redis.Client, db *sql.DB) *Scheduler {
	return &Scheduler{
		store:       store,
		enqueuer:    enqueuer,
		redisClient: redisClient,
		db:          db,
		cron:        cron.New(cron.WithParser(cronParser)),
		entries:     make(map[string]cron.EntryID),
	}
}

// Start loads all ACTIVE tasks, registers their cron jobs and starts the
// tick engine.
func (s *Scheduler) Start(ctx context.Context) error {
	tasks, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active tasks: %w", err)
	}
	for _, t := range tasks {
		if err := s.register(t); err != nil {
			log.Printf("[Scheduler] Skipping task %s: %v", t.TaskID, err)
		}
	}
	s.cron.Start()
	log.Printf("[Scheduler] Started with %d active tasks", len(tasks))
	return nil
}

// Stop halts the tick engine and waits for in-flight firings.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// CreateTask validates and persists a new scheduled task, then activates it.
// The stored request drops attachments and carries the distilled
// instructions; firings run under the ask handle's tool set.
func (s *Scheduler) CreateTask(ctx context.Context, current *mail.EmailRequest, cronExpr, distilled string, start, expiry *time.Time) (*Task, error) {
	// Recursion guard: a scheduled run may not schedule further tasks.
	if current.ScheduledTaskID != "" {
		return nil, mail.ErrRecursiveTask
	}

	if _, err := ValidateCron(cronExpr); err != nil {
		return nil, err
	}
	interval, err := MinInterval(cronExpr)
	if err != nil {
		return nil, err
	}
	if interval < MinFireInterval {
		return nil, fmt.Errorf("%w: %s fires every %s", mail.ErrTaskTooFrequent, cronExpr, interval)
	}

	owner := mail.NormalizeAddress(current.From)
	active, err := s.store.CountActiveForOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("count active tasks: %w", err)
	}
	if active >= MaxTasksPerOwner {
		return nil, fmt.Errorf("%w: %d active", mail.ErrTaskLimitReached, active)
	}

	stored := *current
	stored.Attachments = nil
	stored.DistilledInstructions = distilled
	stored.DistilledAlias = "ask"

	task := &Task{
		TaskID:         uuid.New().String(),
		OwnerEmail:     owner,
		CronExpression: cronExpr,
		Status:         StatusInitialised,
		EmailRequest:   &stored,
		StartTime:      start,
		ExpiryTime:     expiry,
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, err
	}
	if err := s.register(task); err != nil {
		s.store.SetStatus(ctx, task.TaskID, StatusDeleted)
		return nil, fmt.Errorf("register cron job: %w", err)
	}
	if err := s.store.SetStatus(ctx, task.TaskID, StatusActive); err != nil {
		return nil, err
	}
	task.Status = StatusActive
	return task, nil
}

// DeleteTask soft-deletes a task owned by owner and deregisters its cron
// job. Deleting an already-deleted task is a no-op success.
func (s *Scheduler) DeleteTask(ctx context.Context, taskID, owner string) error {
	if _, err := s.store.SoftDelete(ctx, taskID, mail.NormalizeAddress(owner)); err != nil {
		return err
	}
	s.deregister(taskID)
	return nil
}

func (s *Scheduler) register(t *Task) error {
	taskID := t.TaskID
	entryID, err := s.cron.AddFunc(t.CronExpression, func() { s.fire(taskID) })
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[taskID] = entryID
	s.mu.Unlock()
	s.store.SetJobID(context.Background(), taskID, strconv.Itoa(int(entryID)))
	return nil
}

func (s *Scheduler) deregister(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[taskID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, taskID)
	}
}

// fire runs on the cron tick for one task: window check, run bookkeeping,
// request rehydration and re-injection.
func (s *Scheduler) fire(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	task, err := s.store.Get(ctx, taskID)
	if err != nil || task == nil {
		log.Printf("[Scheduler] Firing %s: load failed: %v", taskID, err)
		return
	}

	now := time.Now()
	if task.ExpiryTime != nil && now.After(*task.ExpiryTime) {
		s.store.SetStatus(ctx, taskID, StatusFinished)
		s.deregister(taskID)
		return
	}
	if !task.EligibleAt(now) {
		if task.Status == StatusDeleted || task.Status == StatusFinished {
			s.deregister(taskID)
		}
		return
	}

	// One firing per tick across all scheduler instances.
	lock := distlock.NewLock(s.redisClient, s.db, "task_fire:"+taskID, MinFireInterval/2)
	acquired, err := lock.Acquire(ctx)
	if err != nil || !acquired {
		return
	}
	defer lock.Release(ctx)

	s.store.TransitionStatus(ctx, taskID, StatusActive, StatusExecuting)
	// Only an uninterrupted execution goes back to ACTIVE; a delete landing
	// mid-run keeps the task DELETED.
	defer s.store.TransitionStatus(ctx, taskID, StatusExecuting, StatusActive)

	runID, err := s.store.OpenRun(ctx, taskID)
	if err != nil {
		log.Printf("[Scheduler] Firing %s: open run failed: %v", taskID, err)
		return
	}

	// Rehydrate with a fresh message id; the original id becomes the parent
	// for threading and recursion tracking.
	req := *task.EmailRequest
	req.ParentMessageID = req.MessageID
	req.MessageID = "sched-" + uuid.New().String()
	req.ScheduledTaskID = taskID

	if err := s.enqueuer.EnqueueScheduled(ctx, &req, taskID, runID); err != nil {
		log.Printf("[Scheduler] Firing %s: enqueue failed: %v", taskID, err)
		s.store.CloseRun(ctx, runID, RunErrored)
		return
	}
	log.Printf("[Scheduler] Task %s fired, run %s enqueued", taskID, runID)
}
