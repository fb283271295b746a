package sync

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/openmined/vaultsync/internal/client/remote"
)

const (
	remoteCallTimeout   = 60 * time.Second
	retryAttempts       = 3
	DefaultRetryBackoff = 500 * time.Millisecond
)

// withRetry runs fn with a per-attempt timeout, retrying transient failures
// with jittered exponential backoff. Missing files and cancellation of ctx
// are returned at once.
func withRetry[T any](ctx context.Context, op string, backoff time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, remoteCallTimeout)
		v, err := fn(callCtx)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !retryable(ctx, err) || attempt == retryAttempts {
			break
		}

		wait := backoff << (attempt - 1)
		wait += time.Duration(rand.Int64N(int64(wait)/2 + 1))
		slog.Debug("remote retry", "op", op, "attempt", attempt, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
	return zero, lastErr
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, remote.ErrFileNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
