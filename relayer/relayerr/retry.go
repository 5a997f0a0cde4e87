package relayerr

import (
	"context"
	"math"
	"time"
)

// RetryConfig configures retry behavior for destination chain calls.
type RetryConfig struct {
	MaxAttempts  int           // Total attempts including the first one
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Backoff ceiling
	Multiplier   float64       // Exponential backoff factor
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryFunc is a function that can be retried.
type RetryFunc func() error

// RetryWithConfig runs fn up to config.MaxAttempts times with exponential
// backoff between attempts. It stops early on success, on a non-retryable
// error, or when ctx is cancelled. The returned attempts count is how many
// times fn actually ran.
func RetryWithConfig(ctx context.Context, fn RetryFunc, config *RetryConfig) (attempts int, err error) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		default:
		}

		attempts = attempt
		if err := fn(); err == nil {
			return attempts, nil
		} else {
			lastErr = err
			if !IsRetryable(err) {
				return attempts, err
			}
		}

		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return attempts, Wrap(lastErr, CodeExhausted, "maximum retry attempts exceeded").
		WithContext("attempts", config.MaxAttempts)
}

// ExponentialBackoff calculates the delay before the given attempt.
func ExponentialBackoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return baseDelay
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
