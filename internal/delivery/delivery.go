// Package delivery defines the outbound email capability and its SES
// implementation. Replies are threaded onto the original message via
// In-Reply-To/References.
package delivery

import "context"

// Attachment is one file to attach to a reply.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Reply is a fully-composed outbound email.
type Reply struct {
	From        string
	FromName    string
	To          string
	CC          []string
	Subject     string
	TextBody    string
	HTMLBody    string
	InReplyTo   string
	References  string
	Attachments []Attachment
}

// Result reports the provider-assigned message id.
type Result struct {
	MessageID string
}

// Deliverer transmits a reply email. Implementations must be safe for
// concurrent use by the worker pool.
type Deliverer interface {
	Deliver(ctx context.Context, reply *Reply) (*Result, error)
}
