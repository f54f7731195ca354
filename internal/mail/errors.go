package mail

import (
	"errors"
	"fmt"
)

// Stable error kinds shared across the pipeline layers. Validators translate
// them to HTTP statuses; workers decide retry behavior from them.
var (
	ErrUnsupportedHandle     = errors.New("unsupported email handle")
	ErrHandleAlreadyExists   = errors.New("handle already registered")
	ErrAttachmentTooLarge    = errors.New("attachment too large")
	ErrTooManyAttachments    = errors.New("too many attachments")
	ErrUnsupportedAttachment = errors.New("unsupported attachment type")
	ErrNotWhitelisted        = errors.New("sender not whitelisted")
	ErrDuplicateQueued       = errors.New("message already queued")
	ErrDuplicateProcessed    = errors.New("message already processed")
	ErrModelRouter           = errors.New("model router error")
	ErrDelivery              = errors.New("email delivery error")
)

// RateLimitError reports which window was exhausted and for which plan or
// domain scope, so rejection emails can include the right upgrade hint.
type RateLimitError struct {
	Period string // "hour", "day", "month"
	Plan   string // plan name, or "" for domain-scope limits
	Domain string // set for domain-scope limits
	Limit  int
}

func (e *RateLimitError) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("rate limit exceeded for domain %s (%d/%s)", e.Domain, e.Limit, e.Period)
	}
	return fmt.Sprintf("rate limit exceeded for plan %s (%d/%s)", e.Plan, e.Limit, e.Period)
}

// ToolError wraps a failure inside a single tool call. The agent loop
// records it and continues; it never aborts the run.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string { return fmt.Sprintf("tool %s: %v", e.Tool, e.Err) }
func (e *ToolError) Unwrap() error { return e.Err }

// Scheduler-side failures surfaced as tool-call results.
var (
	ErrTaskTooFrequent  = errors.New("scheduled task fires more often than the minimum interval")
	ErrTaskLimitReached = errors.New("maximum number of active scheduled tasks reached")
	ErrRecursiveTask    = errors.New("scheduled runs may not create new scheduled tasks")
)
