package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRegistry(threshold int) *Registry {
	return NewRegistry(Config{
		FailureThreshold: threshold,
		ResetTimeout:     time.Minute,
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	})
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	r := fastRegistry(5)
	calls := 0
	err := r.Execute(context.Background(), "screening", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	r := fastRegistry(5)
	calls := 0
	err := r.Execute(context.Background(), "screening", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if got := r.Breaker("screening").State(); got != StateClosed {
		t.Errorf("breaker state = %s, want CLOSED after success", got)
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	t.Parallel()

	r := fastRegistry(10)
	calls := 0
	boom := errors.New("boom")
	err := r.Execute(context.Background(), "osint", func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Execute() = %v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Execute() error does not wrap the last attempt error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	r := fastRegistry(10)
	calls := 0
	err := r.Execute(context.Background(), "ledger", func(context.Context) error {
		calls++
		return Permanent(fmt.Errorf("decision row for unknown alert"))
	})
	if err == nil || calls != 1 {
		t.Fatalf("Execute() = %v after %d calls, want 1 call with error", err, calls)
	}
	var pe *PermanentError
	if !errors.As(err, &pe) {
		t.Errorf("error %v is not a PermanentError", err)
	}
}

func TestExecuteShortCircuitsWhenOpen(t *testing.T) {
	t.Parallel()

	// Threshold 2 opens the breaker mid-sequence; the third attempt must
	// never reach the collaborator.
	r := fastRegistry(2)
	calls := 0
	err := r.Execute(context.Background(), "mail", func(context.Context) error {
		calls++
		return errors.New("smtp connect failed")
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() = %v, want ErrCircuitOpen", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (third attempt short-circuited)", calls)
	}

	// Subsequent calls fail fast without invoking the collaborator at all.
	err = r.Execute(context.Background(), "mail", func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() while open = %v, want ErrCircuitOpen", err)
	}
	if calls != 2 {
		t.Errorf("collaborator invoked while breaker open (calls = %d)", calls)
	}
}

func TestExecuteHonorsContextDuringBackoff(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{
		FailureThreshold: 10,
		Retry:            RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour},
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := r.Execute(ctx, "screening", func(context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Execute() blocked %v, want prompt abort on cancel", elapsed)
	}
}

func TestBackoffDoubling(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := backoff(p, i); got != w {
			t.Errorf("backoff(attempt %d) = %v, want %v", i, got, w)
		}
	}
	if got := backoff(p, 20); got != 30*time.Second {
		t.Errorf("backoff(attempt 20) = %v, want capped 30s", got)
	}
}
