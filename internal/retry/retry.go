// Package retry wraps writes that can lose an optimistic-concurrency race.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
)

// Policy bounds how often and how fast a conflicting write is retried.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration

	// Retryable decides which errors are retried. Nil means optimistic conflicts only.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error)
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: 50 * time.Millisecond}
}

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, models.ErrOptimisticConflict)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. The last conflict is returned unchanged once
// attempts are exhausted. The backoff sleep honours ctx.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsConflict
	}

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = fn(ctx)
		if err == nil || !retryable(err) || attempt == attempts {
			return result, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if err := sleep(ctx, p.Backoff); err != nil {
			var zero T
			return zero, err
		}
	}
	return result, err
}

// Run is Do for actions without a result.
func Run(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
