// Package resilience provides the retry and circuit breaker primitives
// shared by all provider adapters. Retries cover vendor-transient
// failures only; routing-level errors are never retried here.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/Luneo19/luneo-platform-sub016/services/providers"
)

// Retry runs fn up to maxRetries+1 times with exponential backoff.
// Only errors marked retryable by the adapter (rate limits, 5xx,
// network failures) are retried; anything else surfaces immediately.
// Context cancellation aborts the wait between attempts.
func Retry(ctx context.Context, maxRetries int, fn func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.MaxInterval = 10 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxRetries)), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !providers.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// NewBreaker returns a per-provider circuit breaker: three consecutive
// failures trip it open for 30 seconds, then up to three probe requests
// decide whether it closes again.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// Execute runs fn through the breaker, preserving the result type.
func Execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	result, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
