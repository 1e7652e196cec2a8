// Package redislock implements lock.WorkflowLock as a Redis-backed
// distributed mutex (SET NX PX acquire, Lua compare-and-delete release),
// for deployments where multiple agent processes drive the same workflow
// concurrently against a shared graph backend.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/toolmem/toolmem/memory/lock"
)

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 50 * time.Millisecond
	keyPrefix    = "toolmem:lock:workflow:"
)

// releaseScript deletes the lock key only if it still holds the token
// this holder set, so an expired-then-reacquired lock is never released
// out from under its new owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Locks is a Redis-backed lock.WorkflowLock.
type Locks struct {
	rdb   *redis.Client
	ttl   time.Duration
	retry time.Duration
}

// Options configures Locks.
type Options struct {
	Client *redis.Client
	// TTL bounds how long a lock may be held before it expires
	// automatically, guarding against a crashed holder never unlocking.
	TTL time.Duration
	// RetryInterval is how often Lock polls for acquisition while
	// blocked behind another holder.
	RetryInterval time.Duration
}

// New constructs Locks backed by opts.Client.
func New(opts Options) (*Locks, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = defaultRetry
	}
	return &Locks{rdb: opts.Client, ttl: ttl, retry: retry}, nil
}

// Lock blocks until the distributed lock for workflowID is acquired or
// ctx is done. The returned unlock function is safe to call at most once
// and is a no-op if the lock already expired.
func (l *Locks) Lock(ctx context.Context, workflowID string) (func(), error) {
	key := keyPrefix + workflowID
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redislock: acquire %s: %w", workflowID, err)
		}
		if ok {
			return func() {
				releaseScript.Run(context.Background(), l.rdb, []string{key}, token)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ lock.WorkflowLock = (*Locks)(nil)
