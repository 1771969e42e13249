// Package retry provides the single retry executor used for all upstream
// calls, parameterized by each provider's retry policy.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines retry behavior for one provider.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the second attempt
	Multiplier  float64       // backoff multiplier per attempt
	MaxDelay    time.Duration // backoff cap
	Jitter      bool          // add up to 30% random jitter
}

// DefaultPolicy matches the provider default: three attempts with capped
// exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Func is one attempt. The returned error is consulted by the retryable
// predicate; a nil error stops the loop.
type Func func(ctx context.Context, attempt int) error

// IsRetryable decides whether an attempt's error warrants another try.
type IsRetryable func(error) bool

// Do runs fn under the policy and returns the number of retries performed
// (attempts beyond the first) along with the final error, nil on success.
func Do(ctx context.Context, policy Policy, fn Func, isRetryable IsRetryable) (int, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return attempt, err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		select {
		case <-time.After(Backoff(policy, attempt)):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}
	return policy.MaxAttempts - 1, lastErr
}

// Backoff computes the delay after a given zero-based attempt:
// min(cap, base × multiplier^attempt), plus jitter when enabled.
func Backoff(policy Policy, attempt int) time.Duration {
	delay := time.Duration(float64(policy.BaseDelay) * math.Pow(policy.Multiplier, float64(attempt)))
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if policy.Jitter {
		delay += time.Duration(rand.Float64() * float64(delay) * 0.3)
	}
	return delay
}
