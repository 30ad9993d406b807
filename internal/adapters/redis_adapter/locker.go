// internal/adapters/redis_adapter/locker.go
package redis_a

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/ammerola/stockledger/internal/core/ports"
)

// Locker hands out Redis backed mutexes that expire on their own if the
// holder dies.
type Locker struct {
	client *redislock.Client
	logger *slog.Logger
}

// Statically assert that *Locker implements the Locker interface.
var _ ports.Locker = (*Locker)(nil)

// NewLocker creates a new locker on client
func NewLocker(client *redis.Client, logger *slog.Logger) *Locker {
	return &Locker{
		client: redislock.New(client),
		logger: logger.With(slog.String("component", "locker")),
	}
}

// Obtain tries once to take key for ttl. A held key yields ports.ErrLockNotObtained.
func (l *Locker) Obtain(ctx context.Context, key string, ttl time.Duration) (ports.Lock, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			l.logger.DebugContext(ctx, "lock busy", slog.String("key", key))
			return nil, ports.ErrLockNotObtained
		}
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}

	l.logger.DebugContext(ctx, "lock obtained",
		slog.String("key", key),
		slog.Duration("ttl", ttl))

	return &redisLock{lock: lock}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

// Release frees the lock. Releasing an expired lock is not an error.
func (r *redisLock) Release(ctx context.Context) error {
	if err := r.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("failed to release lock %s: %w", r.lock.Key(), err)
	}
	return nil
}
