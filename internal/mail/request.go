package mail

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// EmailRequest is the canonical in-flight message. It is built by the ingress
// gateway from the multipart form, serialized into the work queue, and
// rehydrated by workers and scheduled-task firings.
type EmailRequest struct {
	From            string            `json:"from"`
	To              string            `json:"to"`
	Subject         string            `json:"subject,omitempty"`
	TextBody        string            `json:"text_body,omitempty"`
	HTMLBody        string            `json:"html_body,omitempty"`
	MessageID       string            `json:"message_id,omitempty"`
	Date            string            `json:"date,omitempty"`
	InReplyTo       string            `json:"in_reply_to,omitempty"`
	References      string            `json:"references,omitempty"`
	CC              []string          `json:"cc,omitempty"`
	BCC             string            `json:"bcc,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Attachments     []EmailAttachment `json:"attachments,omitempty"`
	ScheduledTaskID string            `json:"scheduled_task_id,omitempty"`
	ParentMessageID string            `json:"parent_message_id,omitempty"`

	// Distilled fields are stamped onto the stored request when a scheduled
	// task is created, so future firings can run without the original
	// attachments or handle context.
	DistilledInstructions string `json:"distilled_instructions,omitempty"`
	DistilledAlias        string `json:"distilled_alias,omitempty"`
}

// Validate checks the request invariants: from/to present and syntactically
// valid, and scheduled re-injections carrying their parent message id.
func (r *EmailRequest) Validate() error {
	if !IsValidAddress(r.From) {
		return fmt.Errorf("invalid from address %q", r.From)
	}
	if !IsValidAddress(r.To) {
		return fmt.Errorf("invalid to address %q", r.To)
	}
	if r.ScheduledTaskID != "" && r.ParentMessageID == "" {
		return fmt.Errorf("scheduled request %s missing parent_message_id", r.ScheduledTaskID)
	}
	return nil
}

// EnsureMessageID fills MessageID with a deterministic hash when the inbound
// form carried none, so idempotency markers still dedupe retransmissions of
// the same message.
func (r *EmailRequest) EnsureMessageID() string {
	if r.MessageID == "" {
		r.MessageID = DeterministicMessageID(r)
	}
	return r.MessageID
}

// DeterministicMessageID derives a stable id from the message envelope and
// body. Two deliveries of the same message (same sender, recipient, subject,
// date, bodies and attachment count) hash to the same id.
func DeterministicMessageID(r *EmailRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%d",
		strings.ToLower(strings.TrimSpace(r.From)),
		strings.ToLower(strings.TrimSpace(r.To)),
		r.Subject, r.Date, r.HTMLBody, r.TextBody, len(r.Attachments))
	return "gen-" + hex.EncodeToString(h.Sum(nil))[:32]
}
