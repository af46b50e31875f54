package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luneo19/luneo-platform-sub016/services/providers"
)

func TestRetry(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), 3, func() error {
			calls++
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("non-retryable error surfaces immediately", func(t *testing.T) {
		calls := 0
		authErr := providers.NewProviderError("openai", "UNAUTHORIZED", "bad key", 401, false, nil)

		err := Retry(context.Background(), 3, func() error {
			calls++
			return authErr
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, authErr)
		assert.Equal(t, 1, calls)
	})

	t.Run("plain errors are not retried", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), 3, func() error {
			calls++
			return errors.New("boom")
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retryable error is retried until success", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), 2, func() error {
			calls++
			if calls < 2 {
				return providers.NewProviderError("openai", "RATE_LIMITED", "slow down", 429, true, nil)
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("exhausts retry budget", func(t *testing.T) {
		calls := 0
		rateErr := providers.NewProviderError("openai", "RATE_LIMITED", "slow down", 429, true, nil)

		err := Retry(context.Background(), 1, func() error {
			calls++
			return rateErr
		})

		require.Error(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		calls := 0
		err := Retry(ctx, 5, func() error {
			calls++
			cancel()
			return providers.NewProviderError("openai", "SERVER_ERROR", "oops", 500, true, nil)
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestNewBreaker(t *testing.T) {
	t.Run("trips after three consecutive failures", func(t *testing.T) {
		cb := NewBreaker("test")
		boom := errors.New("boom")

		for i := 0; i < 3; i++ {
			_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
			require.ErrorIs(t, err, boom)
		}

		_, err := cb.Execute(func() (interface{}, error) { return nil, nil })
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		cb := NewBreaker("test")
		boom := errors.New("boom")

		for i := 0; i < 2; i++ {
			_, _ = cb.Execute(func() (interface{}, error) { return nil, boom })
		}
		_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			_, _ = cb.Execute(func() (interface{}, error) { return nil, boom })
		}
		_, err = cb.Execute(func() (interface{}, error) { return "ok", nil })
		assert.NoError(t, err)
	})
}

func TestExecute(t *testing.T) {
	t.Run("preserves the result type", func(t *testing.T) {
		cb := NewBreaker("test")

		result, err := Execute(cb, func() (string, error) {
			return "hello", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "hello", result)
	})

	t.Run("returns zero value on error", func(t *testing.T) {
		cb := NewBreaker("test")

		result, err := Execute(cb, func() (*struct{ N int }, error) {
			return nil, errors.New("boom")
		})

		require.Error(t, err)
		assert.Nil(t, result)
	})
}
