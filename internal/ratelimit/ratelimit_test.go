package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailagent/internal/mail"
	"github.com/ignite/mailagent/internal/plan"
)

func testLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestCheckSenderWithinLimits(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < PlanLimits(plan.Beta)[PeriodHour]; i++ {
		require.NoError(t, l.CheckSender(ctx, "user@gmail.com", plan.Beta))
	}
}

func TestCheckSenderHourBoundary(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()
	limit := PlanLimits(plan.Beta)[PeriodHour]

	for i := 0; i < limit; i++ {
		require.NoError(t, l.CheckSender(ctx, "user@gmail.com", plan.Beta))
	}

	// Request limit+1 is rejected with the hour window.
	err := l.CheckSender(ctx, "user@gmail.com", plan.Beta)
	require.Error(t, err)
	var rle *mail.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, PeriodHour, rle.Period)
	assert.Equal(t, string(plan.Beta), rle.Plan)
	assert.Equal(t, limit, rle.Limit)
}

func TestPlansAreIsolated(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	// PRO gets its own, larger hour bucket.
	for i := 0; i < PlanLimits(plan.Beta)[PeriodHour]+5; i++ {
		require.NoError(t, l.CheckSender(ctx, "pro@gmail.com", plan.Pro))
	}
}

func TestCheckDomainBoundary(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < DomainHourLimit; i++ {
		require.NoError(t, l.CheckDomain(ctx, "corp.example"))
	}
	err := l.CheckDomain(ctx, "corp.example")
	require.Error(t, err)
	var rle *mail.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "corp.example", rle.Domain)
	assert.Equal(t, DomainHourLimit, rle.Limit)
}

func TestFailOpenOnRedisDown(t *testing.T) {
	l, mr := testLimiter(t)
	mr.Close()

	// A dead limiter never blocks processing.
	assert.NoError(t, l.CheckSender(context.Background(), "user@gmail.com", plan.Beta))
	assert.NoError(t, l.CheckDomain(context.Background(), "corp.example"))
}

func TestUsageReadsWithoutIncrement(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	require.NoError(t, l.CheckSender(ctx, "user@gmail.com", plan.Beta))
	require.NoError(t, l.CheckSender(ctx, "user@gmail.com", plan.Beta))

	usage, err := l.Usage(ctx, "user@gmail.com", plan.Beta)
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage[PeriodHour])

	again, err := l.Usage(ctx, "user@gmail.com", plan.Beta)
	require.NoError(t, err)
	assert.Equal(t, usage, again)
}

func TestBucketKeyFormat(t *testing.T) {
	at := time.Date(2026, 8, 24, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, "rate_limit:email:u@x.com:BETA:hour:2026082415",
		BucketKey("email", "u@x.com", "BETA", PeriodHour, at))
	assert.Equal(t, "rate_limit:domain:x.com:hour:2026082415",
		BucketKey("domain", "x.com", "", PeriodHour, at))
	assert.Equal(t, "rate_limit:email:u@x.com:BETA:month:202608",
		BucketKey("email", "u@x.com", "BETA", PeriodMonth, at))
}
