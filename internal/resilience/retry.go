package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds how often Execute re-attempts a failing call.
// Attempt n sleeps BaseDelay << n before the next try, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
)

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// PermanentError marks a failure that must not be retried, such as a
// data-integrity violation. Execute returns it after the first attempt.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Execute will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func isPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ErrRetriesExhausted wraps the final attempt error once the policy's
// attempt budget is spent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Execute runs op under the component's breaker with bounded retries.
// Every attempt failure trips the breaker and every success resets it; an
// open breaker short-circuits the remaining attempts.
func (r *Registry) Execute(ctx context.Context, component string, op func(context.Context) error) error {
	return execute(ctx, r.Breaker(component), r.cfg.Retry, op)
}

func execute(ctx context.Context, b *Breaker, p RetryPolicy, op func(context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := b.Allow(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			b.RecordSuccess()
			return nil
		}
		b.RecordFailure()
		lastErr = err

		if isPermanent(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		if err := sleep(ctx, backoff(p, attempt)); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, p.MaxAttempts, lastErr)
}

func backoff(p RetryPolicy, attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
