// internal/core/services/options.go
package services

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ammerola/stockledger/internal/core/domain"
)

// Options tune the ledger services.
type Options struct {
	// Timezone decides which calendar day a transaction falls on.
	Timezone           *time.Location
	MaxConflictRetries int
	IdempotencyTTL     time.Duration
	// Now is the clock. Tests replace it.
	Now func() time.Time
}

// DefaultOptions returns UTC day keys, three attempts and a one day
// idempotency window.
func DefaultOptions() Options {
	return Options{
		Timezone:           time.UTC,
		MaxConflictRetries: 3,
		IdempotencyTTL:     24 * time.Hour,
		Now:                time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timezone == nil {
		o.Timezone = d.Timezone
	}
	if o.MaxConflictRetries < 1 {
		o.MaxConflictRetries = d.MaxConflictRetries
	}
	if o.IdempotencyTTL <= 0 {
		o.IdempotencyTTL = d.IdempotencyTTL
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// retryOnConflict runs fn until it succeeds, fails with something other than
// a conflict, or runs out of attempts.
func retryOnConflict(ctx context.Context, logger *slog.Logger, opts Options, resource string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return err
		}
		var ce *domain.ConflictError
		if errors.As(err, &ce) && ce.Attempts > 0 {
			return err
		}
		if attempt >= opts.MaxConflictRetries {
			return &domain.ConflictError{Resource: resource, Attempts: attempt, Err: err}
		}

		logger.WarnContext(ctx, "retrying after concurrent update",
			slog.String("resource", resource),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		backoff := time.Duration(attempt)*10*time.Millisecond + time.Duration(rand.IntN(5))*time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}
