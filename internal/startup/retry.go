// Package startup holds process bootstrap helpers: connecting to backing
// services with retries and applying schema migrations.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/grihya/livechat/internal/logger"
)

const maxBackoff = 30 * time.Second

// retry calls attempt with exponential backoff (2s, doubling, capped at 30s)
// until it succeeds, ctx is cancelled or maxWait has elapsed.
func retry(ctx context.Context, what string, maxWait time.Duration, attempt func(context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
