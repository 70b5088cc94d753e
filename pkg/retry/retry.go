package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxRetries     int           // Total number of attempts (not additional retries)
	InitialBackoff time.Duration // Delay before the second attempt
	MaxBackoff     time.Duration // Cap on the exponential delay
	Multiplier     float64       // Exponential backoff multiplier (typically 2.0)
	JitterFactor   float64       // Symmetric jitter fraction in [0, 1)
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		JitterFactor:   0.25,
	}
}

// BackoffFor returns the sleep before attempt i (1-based). Attempt 1 has
// no delay. For i > 1 the base delay is
// min(initial * multiplier^(i-2), max), adjusted by symmetric random
// jitter of +/- JitterFactor.
func (c Config) BackoffFor(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt-2))
	if delay > float64(c.MaxBackoff) {
		delay = float64(c.MaxBackoff)
	}

	if c.JitterFactor > 0 {
		// uniform in [1-jitter, 1+jitter]
		delay *= 1 + c.JitterFactor*(2*rand.Float64()-1)
	}

	return time.Duration(delay)
}

// Do runs fn up to MaxRetries times, sleeping the configured backoff
// between attempts. retryable decides whether a failure is worth another
// attempt; a nil retryable retries everything. fn receives the 1-based
// attempt number. The context is honored both before each attempt and
// during backoff sleeps.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, fn func(attempt int) error) error {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	var lastErr error

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if delay := cfg.BackoffFor(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
			case <-time.After(delay):
			}
		} else {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			default:
			}
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return fmt.Errorf("non-retryable error on attempt %d: %w", attempt, err)
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", cfg.MaxRetries, lastErr)
}
