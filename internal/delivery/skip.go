package delivery

import (
	"context"
	"log"

	"github.com/ignite/mailagent/internal/pkg/logger"
)

// SkipDeliverer logs instead of sending. Used in development and by the
// per-address skip list.
type SkipDeliverer struct{}

func (SkipDeliverer) Deliver(_ context.Context, reply *Reply) (*Result, error) {
	log.Printf("[Delivery] Skipped send to %s (subject %q, %d attachment(s))",
		logger.RedactEmail(reply.To), reply.Subject, len(reply.Attachments))
	return &Result{MessageID: "skipped"}, nil
}
