// Package distlock keeps multi-instance worker deployments from double-firing
// scheduled tasks: one lock per task firing, Redis-backed when available,
// Postgres advisory locks otherwise.
package distlock

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a single-use distributed lock. Not safe for concurrent use; each
// firing creates its own instance.
type Lock interface {
	// Acquire reports whether this instance now holds the lock.
	Acquire(ctx context.Context) (bool, error)
	// Release drops the lock if this instance still owns it.
	Release(ctx context.Context) error
}

// NewLock picks the backend: Redis when a client is available, otherwise
// Postgres advisory locks on db. The TTL only applies to the Redis backend;
// advisory locks are session-scoped and release when the connection drops.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	if redisClient != nil {
		token := make([]byte, 16)
		rand.Read(token)
		return &redisLock{
			client: redisClient,
			key:    "lock:" + key,
			owner:  hex.EncodeToString(token),
			ttl:    ttl,
		}
	}
	h := fnv.New64a()
	h.Write([]byte(key))
	return &pgLock{db: db, lockID: int64(h.Sum64())}
}

// redisLock is SET NX with a TTL and a random owner token, released through a
// compare-and-delete script so an expired lock reclaimed by another instance
// is never deleted from here.
type redisLock struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

func (l *redisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

func (l *redisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err()
}

// pgLock hashes the key to an advisory lock id. Advisory locks are
// session-scoped, so Acquire pins one connection out of the pool and Release
// unlocks on that same connection before returning it.
type pgLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

func (l *pgLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire lock connection: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *pgLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}
