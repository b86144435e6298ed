// Package retry provides bounded retries with exponential backoff for the
// miner's side channels (notifications, storage writes, node RPC). The
// session loop itself never uses it: a failed session restarts after a
// fixed delay.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/bardlex/gosolo/pkg/errors"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// NetworkConfig returns retry configuration for node RPC calls.
func NetworkConfig() *Config {
	return &Config{
		MaxAttempts: 5,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  1.5,
		Jitter:      true,
	}
}

// NotificationConfig returns retry configuration for outbound notifications.
// Delivery happens off the mining goroutine, so it can afford longer waits.
func NotificationConfig() *Config {
	return &Config{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// StorageConfig returns retry configuration for found-block record writes.
func StorageConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    3 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// Do executes a function with retry logic
func Do(ctx context.Context, config *Config, fn RetryableFunc) error {
	_, err := DoWithResult(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes a function with retry logic and returns a result
func DoWithResult[T any](ctx context.Context, config *Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	if config == nil {
		config = DefaultConfig()
	}

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}

		lastErr = err

		if !errors.IsRetryable(err) {
			return zero, err
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(config.calculateDelay(attempt)):
		}
	}

	return zero, errors.Wrap(lastErr, errors.ErrorTypeInternal, "retry",
		"operation failed after maximum retry attempts").
		WithContext("max_attempts", config.MaxAttempts)
}

// calculateDelay calculates the delay for the given attempt using exponential backoff
func (c *Config) calculateDelay(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))
	delay = min(delay, float64(c.MaxDelay))

	if c.Jitter {
		// up to 10% extra
		delay += delay * 0.1 * rand.Float64()
	}

	return time.Duration(delay)
}
