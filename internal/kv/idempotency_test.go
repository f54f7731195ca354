package kv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestMarkQueuedIsFirstWriterWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ok, err := s.MarkQueued(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim for the same message loses.
	ok, err = s.MarkQueued(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, ok)

	queued, err := s.IsQueued(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestMarkProcessedClearsQueued(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.MarkQueued(ctx, "msg-2")
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessed(ctx, "msg-2"))

	processed, err := s.IsProcessed(ctx, "msg-2")
	require.NoError(t, err)
	assert.True(t, processed)

	queued, err := s.IsQueued(ctx, "msg-2")
	require.NoError(t, err)
	assert.False(t, queued)

	// The queued marker is claimable again; the processed marker is what
	// blocks reprocessing now.
	ok, err := s.MarkQueued(ctx, "msg-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClearQueued(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.MarkQueued(ctx, "msg-3")
	require.NoError(t, err)
	require.NoError(t, s.ClearQueued(ctx, "msg-3"))

	queued, err := s.IsQueued(ctx, "msg-3")
	require.NoError(t, err)
	assert.False(t, queued)
}
