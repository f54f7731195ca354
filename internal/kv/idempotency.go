package kv

import (
	"context"
	"fmt"
	"time"
)

// Idempotency marker TTLs. The queued marker only needs to outlive the job's
// time in the queue; the processed marker suppresses late duplicates for a
// full day.
const (
	QueuedTTL    = time.Hour
	ProcessedTTL = 24 * time.Hour
)

func queuedKey(messageID string) string    { return fmt.Sprintf("email_queued:%s", messageID) }
func processedKey(messageID string) string { return fmt.Sprintf("email_processed:%s", messageID) }

// MarkQueued sets the queued marker for messageID if no marker exists yet.
// Returns false when the message is already queued.
func (s *Store) MarkQueued(ctx context.Context, messageID string) (bool, error) {
	return s.SetNX(ctx, queuedKey(messageID), "1", QueuedTTL)
}

// IsQueued reports whether the queued marker exists.
func (s *Store) IsQueued(ctx context.Context, messageID string) (bool, error) {
	return s.Exists(ctx, queuedKey(messageID))
}

// IsProcessed reports whether the processed marker exists.
func (s *Store) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	return s.Exists(ctx, processedKey(messageID))
}

// MarkProcessed sets the processed marker and clears the queued marker.
// Called by the worker after a job completes.
func (s *Store) MarkProcessed(ctx context.Context, messageID string) error {
	if err := s.Set(ctx, processedKey(messageID), "1", ProcessedTTL); err != nil {
		return err
	}
	return s.Delete(ctx, queuedKey(messageID))
}

// ClearQueued removes the queued marker without marking processed, used when
// enqueue fails after the marker was set.
func (s *Store) ClearQueued(ctx context.Context, messageID string) error {
	return s.Delete(ctx, queuedKey(messageID))
}
