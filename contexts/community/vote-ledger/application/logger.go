package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	domainerrors "gymcore/contexts/community/vote-ledger/domain/errors"
)

const defaultStoreTimeout = 5 * time.Second

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
