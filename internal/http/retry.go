package http

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/teracrafts/flagkit-go/errors"
	"github.com/teracrafts/flagkit-go/types"
)

// RetryConfig contains retry configuration.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// CalculateBackoff computes the delay before the given attempt (1-based).
// The delay grows as base * multiplier^(attempt-1), is capped at MaxDelay,
// and carries up to JitterFactor of random jitter so synchronized clients
// spread out.
func (rc *RetryConfig) CalculateBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(rc.BaseDelay) * math.Pow(rc.Multiplier, float64(attempt-1))
	if delay > float64(rc.MaxDelay) {
		delay = float64(rc.MaxDelay)
	}

	if rc.JitterFactor > 0 {
		jitter := delay * rc.JitterFactor * rand.Float64()
		delay += jitter
	}

	return time.Duration(delay)
}

// WithRetry runs fn up to MaxAttempts times, sleeping the backoff between
// attempts. Non-recoverable errors stop the loop immediately; the last
// error is returned when all attempts fail. The context cancels the wait
// between attempts.
func WithRetry[T any](ctx context.Context, rc *RetryConfig, logger types.Logger, op string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errors.IsRecoverable(err) {
			return zero, err
		}

		if attempt == rc.MaxAttempts {
			break
		}

		delay := rc.CalculateBackoff(attempt)
		if logger != nil {
			logger.Debug("Retrying after failure",
				"operation", op,
				"attempt", attempt,
				"delay", delay.String(),
				"error", err.Error(),
			)
		}

		select {
		case <-ctx.Done():
			return zero, errors.NetworkError(errors.ErrNetworkTimeout, "request cancelled", ctx.Err())
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}
