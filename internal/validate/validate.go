// Package validate runs the ordered ingress checks on an inbound email
// before it is queued: self-loop guard, rate limits, whitelist, handle
// lookup, attachment limits, and idempotency markers. The first failing
// check short-circuits; the API layer maps the outcome to an HTTP status
// and any notification email.
package validate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"

	"github.com/ignite/mailagent/internal/handles"
	"github.com/ignite/mailagent/internal/kv"
	"github.com/ignite/mailagent/internal/mail"
	"github.com/ignite/mailagent/internal/plan"
	"github.com/ignite/mailagent/internal/ratelimit"
	"github.com/ignite/mailagent/internal/whitelist"
)

// Verdicts, in pipeline order. Accepted means the request may be enqueued.
const (
	VerdictAccepted      = "accepted"
	VerdictSelfLoop      = "self_loop_skipped"
	VerdictRateLimited   = "rate_limited"
	VerdictUnverified    = "unverified_sender"
	VerdictBadHandle     = "unsupported_handle"
	VerdictBadAttachment = "invalid_attachment"
	VerdictDuplicate     = "duplicate"
)

// selfLoopDomains are sender domains the service itself emits from; mail
// from them is bounce/notification traffic and must never re-enter the
// pipeline.
var selfLoopDomains = map[string]bool{
	"amazonses.com": true,
}

// Outcome is the pipeline result for one request.
type Outcome struct {
	Verdict string
	// Err carries the failing check's error for non-accepted verdicts.
	Err error
	// Plan is the sender's resolved plan, set once the pipeline reaches the
	// rate-limit stage.
	Plan plan.Plan
	// Instructions is the resolved handle, set on accepted outcomes.
	Instructions *handles.ProcessingInstructions
	// VerificationToken is set on VerdictUnverified so the gateway can send
	// the verification email.
	VerificationToken string
	// NextAction hints the caller's follow-up for unverified senders.
	NextAction string
}

// Pipeline wires the validators to their backing stores.
type Pipeline struct {
	resolver  *handles.Resolver
	limiter   *ratelimit.Limiter
	plans     plan.Oracle
	whitelist *whitelist.Store
	kv        *kv.Store
	// whitelistEnabled gates the whitelist stage; development environments
	// run with it off.
	whitelistEnabled bool
}

// New builds the pipeline.
func New(resolver *handles.Resolver, limiter *ratelimit.Limiter, plans plan.Oracle,
	wl *whitelist.Store, store *kv.Store, whitelistEnabled bool) *Pipeline {
	return &Pipeline{
		resolver:         resolver,
		limiter:          limiter,
		plans:            plans,
		whitelist:        wl,
		kv:               store,
		whitelistEnabled: whitelistEnabled,
	}
}

// CheckAPIKey compares the presented ingress key in constant time.
func CheckAPIKey(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// Run executes the checks in order and returns the first failure, or an
// accepted outcome with the queued idempotency marker already set.
func (p *Pipeline) Run(ctx context.Context, req *mail.EmailRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return &Outcome{Verdict: VerdictBadHandle, Err: err}, nil
	}

	senderDomain := mail.Domain(req.From)
	if selfLoopDomains[senderDomain] {
		return &Outcome{Verdict: VerdictSelfLoop}, nil
	}

	sender := mail.NormalizeAddress(req.From)
	senderPlan, err := p.plans.PlanFor(ctx, sender)
	if err != nil {
		// Plan lookups fail soft onto the default tier.
		log.Printf("[Validate] Plan lookup for %s failed, assuming BETA: %v", sender, err)
		senderPlan = plan.Beta
	}
	out := &Outcome{Plan: senderPlan}

	if err := p.limiter.CheckSender(ctx, sender, senderPlan); err != nil {
		out.Verdict = VerdictRateLimited
		out.Err = err
		return out, nil
	}
	if !whitelist.IsProviderDomain(senderDomain) {
		if err := p.limiter.CheckDomain(ctx, senderDomain); err != nil {
			out.Verdict = VerdictRateLimited
			out.Err = err
			return out, nil
		}
		if unverified, err := p.checkWhitelist(ctx, sender, out); err != nil {
			return nil, err
		} else if unverified {
			return out, nil
		}
	}

	pi, err := p.resolver.Resolve(req.To)
	if err != nil {
		out.Verdict = VerdictBadHandle
		out.Err = err
		return out, nil
	}
	out.Instructions = pi

	if err := checkAttachments(req.Attachments); err != nil {
		out.Verdict = VerdictBadAttachment
		out.Err = err
		return out, nil
	}

	req.EnsureMessageID()
	if dup, err := p.checkIdempotency(ctx, req.MessageID); err != nil {
		return nil, err
	} else if dup != nil {
		out.Verdict = VerdictDuplicate
		out.Err = dup
		return out, nil
	}

	out.Verdict = VerdictAccepted
	return out, nil
}

// checkWhitelist resolves the sender's whitelist state for non-provider
// domains. Returns true when the sender must verify first.
func (p *Pipeline) checkWhitelist(ctx context.Context, sender string, out *Outcome) (bool, error) {
	if !p.whitelistEnabled {
		return false, nil
	}
	exists, verified, err := p.whitelist.Lookup(ctx, sender)
	if err != nil {
		return false, fmt.Errorf("whitelist lookup for %s: %w", sender, err)
	}
	if exists && verified {
		return false, nil
	}
	token, err := p.whitelist.EnsureVerificationToken(ctx, sender)
	if err != nil {
		return false, fmt.Errorf("ensure verification token for %s: %w", sender, err)
	}
	out.Verdict = VerdictUnverified
	out.Err = mail.ErrNotWhitelisted
	out.VerificationToken = token
	out.NextAction = "verify_email_then_resend"
	return true, nil
}

// checkAttachments enforces count, per-file and total size limits, and the
// blocked content-type list.
func checkAttachments(atts []mail.EmailAttachment) error {
	if len(atts) > mail.MaxAttachmentCount {
		return fmt.Errorf("%w: %d files (max %d)", mail.ErrTooManyAttachments, len(atts), mail.MaxAttachmentCount)
	}
	var total int64
	for _, a := range atts {
		if a.Blocked() {
			return fmt.Errorf("%w: %s (%s)", mail.ErrUnsupportedAttachment, a.Filename, a.ContentType)
		}
		if a.SizeBytes > mail.MaxAttachmentBytes {
			return fmt.Errorf("%w: %s is %d bytes (max %d)", mail.ErrAttachmentTooLarge, a.Filename, a.SizeBytes, mail.MaxAttachmentBytes)
		}
		total += a.SizeBytes
	}
	if total > mail.MaxTotalBytes {
		return fmt.Errorf("%w: %d bytes total (max %d)", mail.ErrAttachmentTooLarge, total, mail.MaxTotalBytes)
	}
	return nil
}

// checkIdempotency rejects messages already queued or already processed,
// then claims the queued marker for this one.
func (p *Pipeline) checkIdempotency(ctx context.Context, messageID string) (error, error) {
	processed, err := p.kv.IsProcessed(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}
	if processed {
		return mail.ErrDuplicateProcessed, nil
	}
	claimed, err := p.kv.MarkQueued(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("idempotency claim: %w", err)
	}
	if !claimed {
		return mail.ErrDuplicateQueued, nil
	}
	return nil, nil
}

// ReleaseClaim drops the queued marker when enqueue fails after acceptance,
// so a retransmission is not spuriously rejected as duplicate.
func (p *Pipeline) ReleaseClaim(ctx context.Context, messageID string) {
	if err := p.kv.ClearQueued(ctx, messageID); err != nil {
		log.Printf("[Validate] Failed to release queued marker for %s: %v", messageID, err)
	}
}

// IsDuplicateQueued distinguishes the two duplicate verdicts for status
// rendering.
func IsDuplicateQueued(err error) bool { return errors.Is(err, mail.ErrDuplicateQueued) }
