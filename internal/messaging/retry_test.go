package messaging

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_SucceedsAfterRetries(t *testing.T) {
	var delays []time.Duration
	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		Jitter:      func(d time.Duration) time.Duration { return d },
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}

	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(delays) != 2 || delays[0] != 10*time.Millisecond || delays[1] != 20*time.Millisecond {
		t.Fatalf("expected exponential delays, got %v", delays)
	}
}

func TestRetryPolicy_StopsAtMaxAttempts(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 2,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}

	boom := errors.New("boom")
	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error, got: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryPolicy_DoesNotRetryCancellation(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5}

	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("cancellation must not be retried, got %d attempts", attempts)
	}
}

func TestRetryPolicy_MaxDelayCapsBackoff(t *testing.T) {
	var delays []time.Duration
	policy := RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    15 * time.Millisecond,
		Jitter:      func(d time.Duration) time.Duration { return d },
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}

	_ = policy.Do(context.Background(), func() error { return errors.New("boom") })
	for _, d := range delays {
		if d > 15*time.Millisecond {
			t.Fatalf("delay %v exceeds cap", d)
		}
	}
}

func TestRetryPolicy_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{MaxAttempts: 3}
	attempts := 0
	err := policy.Do(ctx, func() error {
		attempts++
		return errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("cancelled context must prevent attempts, got %d", attempts)
	}
}
