// Package worklock serializes recomputation jobs per (show, month) with a
// Redis lock, so concurrent identical requests don't interleave their
// overall merges.
package worklock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed worker can hold a lock.
const DefaultTTL = 30 * time.Minute

// ErrHeld is returned when another run already holds the lock.
var ErrHeld = errors.New("recompute already running for this show and month")

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lock acquires per-(show, month) run locks in Redis.
type Lock struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a lock manager. ttl <= 0 uses DefaultTTL.
func New(client *redis.Client, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{client: client, ttl: ttl}
}

// Acquire takes the lock for one (show, month). On success it returns a
// release func; when the lock is held elsewhere it returns ErrHeld.
func (l *Lock) Acquire(ctx context.Context, showUUID, month string) (func(context.Context) error, error) {
	key := fmt.Sprintf("recompute:%s:%s", showUUID, month)
	holder := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, holder, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, holder).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("release lock %q: %w", key, err)
		}
		return nil
	}
	return release, nil
}
