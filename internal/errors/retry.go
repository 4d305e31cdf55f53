package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig is an exponential backoff policy for provider calls.
type RetryConfig struct {
	MaxRetries   int           // attempts after the first one
	InitialDelay time.Duration // wait before the first retry
	MaxDelay     time.Duration // cap on any single wait
	Multiplier   float64       // growth factor per retry; <= 1 keeps the delay flat

	// Jitter draws each wait from [delay/2, delay].
	Jitter bool
}

// DefaultRetryConfig returns the policy used around embedding providers.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// next returns the wait before the retry following one that waited delay.
func (c RetryConfig) next(delay time.Duration) time.Duration {
	if c.Multiplier > 1 {
		delay = time.Duration(float64(delay) * c.Multiplier)
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

func (c RetryConfig) wait(delay time.Duration) time.Duration {
	if !c.Jitter || delay <= 0 {
		return delay
	}
	return delay/2 + time.Duration(rand.Int64N(int64(delay/2)+1))
}

// Permanent reports whether err should not be retried: context
// cancellation, or an AmanError whose code is not retryable. Errors
// without a code are treated as transient.
func Permanent(err error) bool {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ae *AmanError
	return stderrors.As(err, &ae) && !ae.Retryable
}

// Retry runs fn until it succeeds, fails permanently, or the retries run out.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions that return a value. A permanent
// error is returned as is; exhausting the retries wraps the last error.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		switch {
		case err == nil:
			return result, nil
		case Permanent(err):
			return zero, err
		case attempt >= cfg.MaxRetries:
			return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, err)
		}

		timer := time.NewTimer(cfg.wait(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay = cfg.next(delay)
	}
}
