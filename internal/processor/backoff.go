package processor

import (
	"context"
	"time"
)

// fetchWithFibonacciRetry retries fn with Fibonacci-growing delays bounded
// to [30s, 30m], unbounded attempts (spec §4.F "Fibonacci 30 s–30 min,
// unbounded"). No backoff library appears anywhere in the example pack, so
// this is a small hand-rolled stdlib loop rather than an imported one.
func fetchWithFibonacciRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	const (
		minDelay = 30 * time.Second
		maxDelay = 30 * time.Minute
	)

	prev, cur := minDelay, minDelay
	for {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			var zero T
			return zero, ctx.Err()
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(cur):
		}

		prev, cur = cur, prev+cur
		if cur > maxDelay {
			cur = maxDelay
		}
	}
}
