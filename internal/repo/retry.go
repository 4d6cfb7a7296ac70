package repo

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nidhogg/skillmatch/internal/apperr"
)

// RetryPolicy bounds how often an optimistic commit is re-attempted.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy retries four times starting at 10ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
		Multiplier:      2,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// WithRetry runs op until it succeeds, fails with something other than
// ErrConflict, or the policy is exhausted. Exhaustion surfaces as an
// apperr.ErrConcurrencyConflict wrapping the last conflict.
func WithRetry(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err == nil || errors.Is(err, ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, p.backOff(ctx))
	if err != nil && errors.Is(err, ErrConflict) {
		return apperr.Conflict(err, "commit failed after %d attempts", attempt)
	}
	return err
}
