package execution

import (
	"context"
	"errors"
	"testing"
	"time"
)

func withFastBackoff(t *testing.T) {
	t.Helper()
	original := BackoffSchedule
	BackoffSchedule = []time.Duration{time.Millisecond, 2 * time.Millisecond}
	t.Cleanup(func() { BackoffSchedule = original })
}

func TestWithRetry_NoErrorReturnsImmediately(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), time.Second, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestWithRetry_PermanentErrorReturnsWithoutRetry(t *testing.T) {
	calls := 0
	permanent := NewAdapterError(ErrorKindRejected, "bad request", nil)
	err := WithRetry(context.Background(), time.Second, func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected the permanent error returned unchanged, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retries for a non-transient error, got %d calls", calls)
	}
}

func TestWithRetry_TransientErrorRetriesUntilSuccess(t *testing.T) {
	withFastBackoff(t)
	calls := 0
	err := WithRetry(context.Background(), time.Second, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewAdapterError(ErrorKindTransient, "timeout", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls before success, got %d", calls)
	}
}

func TestWithRetry_RateLimitedErrorRetries(t *testing.T) {
	withFastBackoff(t)
	calls := 0
	err := WithRetry(context.Background(), time.Second, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return NewAdapterError(ErrorKindRateLimited, "too many requests", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls before success, got %d", calls)
	}
}

func TestWithRetry_GivesUpAfterSchedule(t *testing.T) {
	withFastBackoff(t)
	calls := 0
	transientErr := NewAdapterError(ErrorKindTransient, "still down", nil)
	err := WithRetry(context.Background(), time.Second, func(ctx context.Context) error {
		calls++
		return transientErr
	})
	if !errors.Is(err, transientErr) {
		t.Fatalf("expected the last transient error returned once the schedule is exhausted, got %v", err)
	}
	if calls != len(BackoffSchedule)+1 {
		t.Fatalf("expected %d calls (len(schedule)+1), got %d", len(BackoffSchedule)+1, calls)
	}
}

func TestWithRetry_ContextCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := WithRetry(ctx, time.Second, func(ctx context.Context) error {
		calls++
		return NewAdapterError(ErrorKindTransient, "timeout", nil)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
