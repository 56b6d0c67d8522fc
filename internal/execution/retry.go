package execution

import (
	"context"
	"time"
)

// BackoffSchedule is the exponential backoff spec.md §5 mandates for
// transient exchange errors: 1s, 2s, 4s, 8s, capped at 30s.
var BackoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

const maxBackoff = 30 * time.Second

// WithRetry calls fn, retrying on transient/network errors with the
// spec-mandated exponential backoff, and returns the last error once
// BackoffSchedule is exhausted. Rate-limit errors are retried on the same
// schedule; no rate-limit window reported by the adapter is consulted.
func WithRetry(ctx context.Context, perCallTimeout time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) && !IsRateLimited(err) {
			return err
		}

		if attempt >= len(BackoffSchedule) {
			return lastErr
		}
		delay := BackoffSchedule[attempt]
		if delay > maxBackoff {
			delay = maxBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
