package storage

import (
	"context"
	"fmt"
	"log"
	"time"
)

// RetryPolicy bounds connection acquisition: up to Attempts tries with Delay
// between them. The contract is an explicit bounded loop with a typed
// outcome: attempt, on failure wait, repeat, then fail with
// ErrPersistenceUnavailable once attempts are exhausted.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// OpenWithRetry constructs the configured repository and verifies
// reachability with Ping, retrying per policy. A repository whose Ping fails
// is closed before the next attempt so no half-open pools leak.
func OpenWithRetry(ctx context.Context, cfg Config, policy RetryPolicy) (Repository, error) {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		log.Printf("storage: connecting to %s (attempt %d/%d)", cfg.Kind, attempt, attempts)

		repo, err := New(ctx, cfg)
		if err == nil {
			if err = repo.Ping(ctx); err == nil {
				log.Printf("storage: connection established")
				return repo, nil
			}
			repo.Close()
		}
		lastErr = err
		log.Printf("storage: connection attempt %d failed: %v", attempt, err)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrPersistenceUnavailable, ctx.Err())
		case <-time.After(policy.Delay):
		}
	}
	return nil, fmt.Errorf("%w: %d attempts exhausted: %w", ErrPersistenceUnavailable, attempts, lastErr)
}
