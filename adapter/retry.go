package adapter

import (
	"context"
	"fmt"
	"time"
)

// retryBaseDelay is the first backoff step; each retry doubles it.
const retryBaseDelay = 500 * time.Millisecond

// Attempt runs op up to 1+retries times with exponential backoff between
// tries. It returns nil on the first success and the last op error once
// attempts run out. When permanent reports an error as non-retriable the
// loop stops immediately. The context is checked before every try and
// during backoff.
func Attempt(ctx context.Context, retries int, permanent func(error) bool, op func() error) error {
	attempts := 1 + retries

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * retryBaseDelay
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable: %w", lastErr)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
