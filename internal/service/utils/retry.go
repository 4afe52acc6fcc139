package utils

import (
	"context"
	"errors"
	"time"
)

// ErrNoAttempts is returned when Retry is asked for fewer than one attempt.
var ErrNoAttempts = errors.New("no attempts allowed")

// Retry calls fn up to maxAttempts times with exponential backoff, stopping
// early on success or when ctx is done. The last error is returned.
func Retry[T any](ctx context.Context, maxAttempts int, initialDelay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if maxAttempts < 1 {
		return zero, ErrNoAttempts
	}
	delay := initialDelay
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2 // Exponential backoff
	}
	return zero, lastErr
}
