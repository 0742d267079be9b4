package order

import (
	"context"
	"time"
)

// retry calls fn up to maxAttempts times while retryable reports true for
// its error, sleeping with exponential backoff starting at baseDelay
// between attempts. It returns the last error, or ctx.Err() if the context
// ends while waiting.
func retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}
