package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultStoreTimeout    = 5 * time.Second
	defaultRetryAttempts   = 3
	defaultInitialInterval = 100 * time.Millisecond
	maxRetryInterval       = 2 * time.Second
)

// ResolveLogger guarantees a non-nil logger for application/worker code paths.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// StoreContext bounds one store call.
func StoreContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// ClassifyStoreError maps deadline and cancellation errors that escaped an
// adapter onto the transient category.
func ClassifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domainerrors.Transient(err)
	}
	return err
}

// RetryPolicy bounds how a saga step is retried.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	StoreTimeout    time.Duration
}

// Retry runs op with a fresh store timeout per attempt and retries only
// transient failures, with exponential backoff between attempts.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = defaultInitialInterval
	}
	exp.MaxInterval = maxRetryInterval
	exp.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		callCtx, cancel := StoreContext(ctx, policy.StoreTimeout)
		defer cancel()
		err := ClassifyStoreError(op(callCtx))
		if err == nil {
			return nil
		}
		if errors.Is(err, domainerrors.ErrTransient) && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx))
}
