package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailagent/internal/mail"
	"github.com/ignite/mailagent/internal/plan"
)

// Fixed-window rate limiting with TTL-bucketed counters. Each check is a
// single atomic INCR+EXPIRE Lua call; a GET → check → INCR sequence would
// race under concurrent ingress.
//
// The ±1 boundary slack of fixed windows is accepted: the exceeding INCR is
// observed and rejected, so a counter never drifts past limit+1 between
// consecutive checks.

// Period identifiers and their bucket TTLs. TTLs are the period plus slack
// so a bucket never expires while still the current window.
const (
	PeriodHour  = "hour"
	PeriodDay   = "day"
	PeriodMonth = "month"
)

var periodTTL = map[string]time.Duration{
	PeriodHour:  2 * time.Hour,
	PeriodDay:   25 * time.Hour,
	PeriodMonth: 31 * 24 * time.Hour,
}

// Limits per plan: hour / day / month. FREE shares the BETA limits.
var planLimits = map[plan.Plan]map[string]int{
	plan.Beta: {PeriodHour: 10, PeriodDay: 30, PeriodMonth: 200},
	plan.Free: {PeriodHour: 10, PeriodDay: 30, PeriodMonth: 200},
	plan.Pro:  {PeriodHour: 50, PeriodDay: 100, PeriodMonth: 1000},
}

// DomainHourLimit applies per sender-domain for domains outside the major
// provider set.
const DomainHourLimit = 50

// PlanLimits exposes the limit table for a plan (used by the /user usage
// endpoint and upgrade-hint rendering).
func PlanLimits(p plan.Plan) map[string]int {
	if l, ok := planLimits[p]; ok {
		return l
	}
	return planLimits[plan.Beta]
}

// incrLuaScript atomically increments a bucket and sets its TTL on first
// insert. Returns the post-increment value.
const incrLuaScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

// Limiter checks plan and domain buckets against Redis.
type Limiter struct {
	client     *redis.Client
	incrScript *redis.Script
}

// New creates a Limiter on the given Redis client.
func New(client *redis.Client) *Limiter {
	return &Limiter{
		client:     client,
		incrScript: redis.NewScript(incrLuaScript),
	}
}

// timeBucket renders the current window identifier for a period:
// YYYYMMDDHH / YYYYMMDD / YYYYMM.
func timeBucket(period string, now time.Time) string {
	switch period {
	case PeriodHour:
		return now.UTC().Format("2006010215")
	case PeriodDay:
		return now.UTC().Format("20060102")
	default:
		return now.UTC().Format("200601")
	}
}

// BucketKey builds the counter key for (scope, identifier, plan, period).
// Plan is empty for domain-scope buckets.
func BucketKey(scope, identifier, planName, period string, now time.Time) string {
	if planName != "" {
		return fmt.Sprintf("rate_limit:%s:%s:%s:%s:%s", scope, identifier, planName, period, timeBucket(period, now))
	}
	return fmt.Sprintf("rate_limit:%s:%s:%s:%s", scope, identifier, period, timeBucket(period, now))
}

// CheckSender increments the sender's hour, day and month buckets for its
// plan and returns a RateLimitError for the first exhausted window. Redis
// errors fail open: a broken limiter must not take email processing down.
func (l *Limiter) CheckSender(ctx context.Context, sender string, p plan.Plan) error {
	limits := PlanLimits(p)
	now := time.Now()
	for _, period := range []string{PeriodHour, PeriodDay, PeriodMonth} {
		key := BucketKey("email", sender, string(p), period, now)
		count, err := l.incr(ctx, key, periodTTL[period])
		if err != nil {
			log.Printf("[RateLimit] Redis error on %s, failing open: %v", period, err)
			return nil
		}
		if count > int64(limits[period]) {
			return &mail.RateLimitError{Period: period, Plan: string(p), Limit: limits[period]}
		}
	}
	return nil
}

// CheckDomain increments the hour bucket for a non-provider sender domain.
func (l *Limiter) CheckDomain(ctx context.Context, domain string) error {
	key := BucketKey("domain", domain, "", PeriodHour, time.Now())
	count, err := l.incr(ctx, key, periodTTL[PeriodHour])
	if err != nil {
		log.Printf("[RateLimit] Redis error on domain bucket, failing open: %v", err)
		return nil
	}
	if count > DomainHourLimit {
		return &mail.RateLimitError{Period: PeriodHour, Domain: domain, Limit: DomainHourLimit}
	}
	return nil
}

// Usage reads the sender's current bucket values without incrementing.
// Missing buckets read as zero.
func (l *Limiter) Usage(ctx context.Context, sender string, p plan.Plan) (map[string]int64, error) {
	now := time.Now()
	usage := make(map[string]int64, 3)
	for _, period := range []string{PeriodHour, PeriodDay, PeriodMonth} {
		key := BucketKey("email", sender, string(p), period, now)
		val, err := l.client.Get(ctx, key).Int64()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		usage[period] = val
	}
	return usage, nil
}

func (l *Limiter) incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := l.incrScript.Run(ctx, l.client, []string{key}, int(ttl.Seconds())).Result()
	if err != nil {
		return 0, err
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result %T", res)
	}
	return count, nil
}
