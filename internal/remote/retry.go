package remote

import (
	"context"
	"time"
)

// RetryPolicy configures exponential backoff for transient failures.
type RetryPolicy struct {
	// Attempts is the total number of tries before the final error is
	// propagated.
	Attempts int

	// BaseDelay is the wait after the first failure; each subsequent
	// failure doubles it.
	BaseDelay time.Duration
}

// DefaultRetryPolicy returns the policy used for reads, setting writes and
// probes: 3 attempts with 500ms base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond}
}

// withRetry runs op, retrying on failure with delays of
// BaseDelay * 2^attempt up to the attempt ceiling. The last error is
// returned once attempts are exhausted. Context cancellation aborts the
// wait immediately.
func withRetry(ctx context.Context, policy RetryPolicy, op func() error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			delay := policy.BaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
