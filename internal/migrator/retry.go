package migrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the retries of an operation failing with
// *ConnectivityError. Any other error stops immediately.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialInterval: 500 * time.Millisecond, MaxInterval: 10 * time.Second}
}

// Do calls op until it succeeds, fails permanently or runs out of attempts.
// op receives the 1-based attempt number.
func (p RetryPolicy) Do(ctx context.Context, log *slog.Logger, op func(attempt uint) error) error {
	if p.MaxAttempts <= 1 {
		return op(1)
	}
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	var attempt uint
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := op(attempt)
		var connErr *ConnectivityError
		if err != nil && !errors.As(err, &connErr) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			if log != nil {
				log.Warn("connectivity failure, retrying", "attempt", attempt, "retry_in", next, "error", err)
			}
		}),
	)
	return err
}
