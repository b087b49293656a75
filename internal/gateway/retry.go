package gateway

import (
	"context"
	"time"
)

// Retry bounds provider calls. Only unavailable errors are retried; the delay
// before attempt n+1 is BaseDelay * 2^(n-1), capped at MaxDelay.
type Retry struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func DefaultRetry() Retry {
	return Retry{
		MaxAttempts:    3,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

func (r Retry) delay(attempt int) time.Duration {
	return min(r.BaseDelay*time.Duration(1<<(attempt-1)), r.MaxDelay)
}

// Do runs fn until it succeeds, fails with a non-retryable error, the attempts
// run out, or ctx is done.
func (r Retry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = r.attempt(ctx, fn)
		if err == nil || !IsUnavailable(err) || attempt == attempts {
			return err
		}

		timer := time.NewTimer(r.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func (r Retry) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}
