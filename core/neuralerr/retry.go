package neuralerr

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines exponential-backoff retry behavior for write races.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterPercent float64
}

// DefaultRetryPolicy is the store write policy: three attempts with
// exponential backoff before the conflict surfaces.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

// Delay computes the backoff delay for an attempt:
// initial * multiplier^attempt, capped and jittered.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt)))
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.JitterPercent > 0 {
		jitter := float64(delay) * p.JitterPercent
		delay += time.Duration((rand.Float64()*2 - 1) * jitter)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Retry runs fn up to MaxAttempts times, backing off between conflict
// attempts. Non-retryable kinds return immediately. If every attempt
// conflicts the last error surfaces as KindConflict.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Delay(attempt)):
			}
		}
	}
	return lastErr
}

func retryable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindBusy:
		return true
	}
	return false
}
