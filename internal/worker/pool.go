// Package worker runs the processing pool: claim a job, run the agent,
// deliver the reply, settle the idempotency markers.
package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/mailagent/internal/delivery"
	"github.com/ignite/mailagent/internal/handles"
	"github.com/ignite/mailagent/internal/kv"
	"github.com/ignite/mailagent/internal/mail"
	"github.com/ignite/mailagent/internal/pkg/logger"
	"github.com/ignite/mailagent/internal/queue"
	"github.com/ignite/mailagent/internal/schedule"
)

// Processor runs the agent over one request. Satisfied by agent.Agent.
type Processor interface {
	ProcessEmail(ctx context.Context, rctx *mail.RequestContext, pi *handles.ProcessingInstructions) (*mail.ProcessingResult, error)
}

// Pool claims jobs from the queue and processes them concurrently.
type Pool struct {
	queue     *queue.Queue
	kv        *kv.Store
	processor Processor
	resolver  *handles.Resolver
	composer  *delivery.Composer
	deliverer delivery.Deliverer
	tasks     *schedule.TaskStore

	workerID     string
	numWorkers   int
	pollInterval time.Duration

	// Addresses we never send to, plus the global skip switch.
	skipAll       bool
	skipAddresses map[string]bool

	totalProcessed int64
	totalFailed    int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Options configures a Pool.
type Options struct {
	WorkerID      string
	NumWorkers    int
	PollInterval  time.Duration
	SkipDelivery  bool
	SkipAddresses []string
}

// NewPool wires the pool to its collaborators.
func NewPool(q *queue.Queue, store *kv.Store, processor Processor, resolver *handles.Resolver,
	composer *delivery.Composer, deliverer delivery.Deliverer, tasks *schedule.TaskStore, opts Options) *Pool {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	skip := make(map[string]bool, len(opts.SkipAddresses))
	for _, a := range opts.SkipAddresses {
		skip[mail.NormalizeAddress(a)] = true
	}
	return &Pool{
		queue:         q,
		kv:            store,
		processor:     processor,
		resolver:      resolver,
		composer:      composer,
		deliverer:     deliverer,
		tasks:         tasks,
		workerID:      opts.WorkerID,
		numWorkers:    opts.NumWorkers,
		pollInterval:  opts.PollInterval,
		skipAll:       opts.SkipDelivery,
		skipAddresses: skip,
	}
}

// Start launches the claim loops. Idempotent.
func (p *Pool) Start(parent context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.ctx, p.cancel = context.WithCancel(parent)
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.claimLoop(fmt.Sprintf("%s-%d", p.workerID, i))
	}
	log.Printf("[Worker] Pool started with %d workers", p.numWorkers)
}

// Stop cancels the loops and waits for in-flight jobs.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	log.Printf("[Worker] Pool stopped (processed=%d failed=%d)",
		atomic.LoadInt64(&p.totalProcessed), atomic.LoadInt64(&p.totalFailed))
}

func (p *Pool) claimLoop(id string) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		job, err := p.queue.Claim(p.ctx, id)
		if err != nil {
			log.Printf("[Worker] %s claim error: %v", id, err)
			p.sleep(p.pollInterval)
			continue
		}
		if job == nil {
			p.sleep(p.pollInterval)
			continue
		}

		// Per-job budget matches the queue's stale-claim threshold.
		jobCtx, cancel := context.WithTimeout(p.ctx, queue.JobTimeBudget)
		p.processJob(jobCtx, job)
		cancel()
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.ctx.Done():
	case <-time.After(d):
	}
}

// processJob runs one claimed job end to end. Retryable failures nack; a
// completed run always acks, even when delivery failed, because rerunning
// the agent cannot fix a broken send.
func (p *Pool) processJob(ctx context.Context, job *queue.Job) {
	req := job.Request
	log.Printf("[Worker] Processing job %s from %s to %s (attempt %d)",
		job.ID, logger.RedactEmail(req.From), logger.RedactEmail(req.To), job.Attempts+1)

	defer p.cleanupAttachments(job.AttachmentsDir)

	// A reclaimed job may already have been completed by its first worker.
	if processed, err := p.kv.IsProcessed(ctx, job.MessageID); err == nil && processed {
		log.Printf("[Worker] Job %s already processed, acking", job.ID)
		p.ack(job)
		return
	}

	pi, err := p.resolveInstructions(req)
	if err != nil {
		// Handle resolution was validated at ingress; failing now means the
		// handle table changed. Not retryable.
		p.bury(ctx, job, fmt.Sprintf("resolve handle: %v", err))
		return
	}

	rctx := mail.NewRequestContext(req)
	if err := p.loadAttachments(rctx, job); err != nil {
		p.nack(ctx, job, fmt.Sprintf("load attachments: %v", err))
		return
	}

	result, err := p.processor.ProcessEmail(ctx, rctx, pi)
	if err != nil {
		// Router errors are transient by definition; back off and retry.
		p.nack(ctx, job, err.Error())
		return
	}

	p.deliver(ctx, req, result)

	if err := p.kv.MarkProcessed(ctx, job.MessageID); err != nil {
		log.Printf("[Worker] Failed to mark %s processed: %v", job.MessageID, err)
	}
	p.closeRun(ctx, job, result)
	p.ack(job)
	atomic.AddInt64(&p.totalProcessed, 1)
}

// resolveInstructions picks the handle for the job: the distilled alias on
// scheduled re-injections, the recipient's local part otherwise.
func (p *Pool) resolveInstructions(req *mail.EmailRequest) (*handles.ProcessingInstructions, error) {
	if req.DistilledAlias != "" {
		return p.resolver.ResolveLocal(req.DistilledAlias)
	}
	return p.resolver.Resolve(req.To)
}

// loadAttachments fills the request's attachment store from inline bytes or
// the on-disk spool directory.
func (p *Pool) loadAttachments(rctx *mail.RequestContext, job *queue.Job) error {
	for _, att := range rctx.Request.Attachments {
		switch {
		case len(att.Content) > 0:
			rctx.Attachments.Put(att.Filename, att.ContentType, att.Content)
		case att.Path != "":
			content, err := os.ReadFile(att.Path)
			if err != nil {
				return fmt.Errorf("read %s: %w", att.Filename, err)
			}
			rctx.Attachments.Put(att.Filename, att.ContentType, content)
		case job.AttachmentsDir != "":
			content, err := os.ReadFile(filepath.Join(job.AttachmentsDir, att.Filename))
			if err != nil {
				return fmt.Errorf("read %s: %w", att.Filename, err)
			}
			rctx.Attachments.Put(att.Filename, att.ContentType, content)
		}
	}
	return nil
}

// deliver sends the reply and records the outcome on the result. Delivery
// failures are terminal for the job.
func (p *Pool) deliver(ctx context.Context, req *mail.EmailRequest, result *mail.ProcessingResult) {
	if p.skipAll || p.skipAddresses[mail.NormalizeAddress(req.From)] {
		result.EmailSent = mail.SendStatus{Status: "skipped"}
		log.Printf("[Worker] Delivery to %s skipped", logger.RedactEmail(req.From))
		return
	}

	reply := p.composer.ComposeReply(req, result)
	sent, err := p.deliverer.Deliver(ctx, reply)
	if err != nil {
		result.EmailSent = mail.SendStatus{Status: "error", Error: err.Error()}
		atomic.AddInt64(&p.totalFailed, 1)
		return
	}
	result.EmailSent = mail.SendStatus{Status: "sent", MessageID: sent.MessageID}
}

// closeRun finalizes the task run on scheduled jobs.
func (p *Pool) closeRun(ctx context.Context, job *queue.Job, result *mail.ProcessingResult) {
	if job.TaskRunID == "" || p.tasks == nil {
		return
	}
	status := schedule.RunCompleted
	if result.Errored() || result.EmailSent.Status == "error" {
		status = schedule.RunErrored
	}
	if err := p.tasks.CloseRun(ctx, job.TaskRunID, status); err != nil {
		log.Printf("[Worker] Failed to close run %s: %v", job.TaskRunID, err)
	}
}

func (p *Pool) ack(job *queue.Job) {
	// Acking uses a fresh context so shutdown cannot orphan a finished job.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.queue.Ack(ctx, job.ID); err != nil {
		log.Printf("[Worker] Failed to ack job %s: %v", job.ID, err)
	}
}

func (p *Pool) nack(ctx context.Context, job *queue.Job, errMsg string) {
	atomic.AddInt64(&p.totalFailed, 1)
	deadLettered, err := p.queue.Nack(ctx, job.ID, job.Attempts, errMsg)
	if err != nil {
		log.Printf("[Worker] Failed to nack job %s: %v", job.ID, err)
		return
	}
	if deadLettered {
		p.failRun(ctx, job, errMsg)
	}
}

func (p *Pool) bury(ctx context.Context, job *queue.Job, errMsg string) {
	atomic.AddInt64(&p.totalFailed, 1)
	// Force past the retry budget so Nack dead-letters immediately.
	if _, err := p.queue.Nack(ctx, job.ID, queue.MaxRetries, errMsg); err != nil {
		log.Printf("[Worker] Failed to bury job %s: %v", job.ID, err)
		return
	}
	p.failRun(ctx, job, errMsg)
}

func (p *Pool) failRun(ctx context.Context, job *queue.Job, errMsg string) {
	if job.TaskRunID == "" || p.tasks == nil {
		return
	}
	if err := p.tasks.CloseRun(ctx, job.TaskRunID, schedule.RunErrored); err != nil {
		log.Printf("[Worker] Failed to close run %s after %q: %v", job.TaskRunID, errMsg, err)
	}
}

func (p *Pool) cleanupAttachments(dir string) {
	if dir == "" {
		return
	}
	// Refuse to remove anything outside a job-scoped directory.
	if !strings.Contains(filepath.Base(dir), "-") {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Printf("[Worker] Failed to clean attachment dir %s: %v", dir, err)
	}
}

// Stats returns processed/failed counters for the health endpoint.
func (p *Pool) Stats() (processed, failed int64) {
	return atomic.LoadInt64(&p.totalProcessed), atomic.LoadInt64(&p.totalFailed)
}
