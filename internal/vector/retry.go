package vector

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy governs how the gateway retries transient transport failures.
// The backoff grows linearly: BaseDelay after the first failure, 2×BaseDelay
// after the second, and so on.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the store's operational posture: three attempts
// with 2s, 4s, 6s pauses between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// run executes op up to MaxAttempts times. Only retryable failures trigger
// another attempt; everything else surfaces immediately.
func (p RetryPolicy) run(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.BaseDelay*time.Duration(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
