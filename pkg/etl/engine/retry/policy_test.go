package retry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/statickg/pkg/etl/core/config"
	"github.com/tigerroll/statickg/pkg/etl/engine/retry"
)

func TestBackoffInterval(t *testing.T) {
	p := retry.NewPolicy(config.RetryConfig{MaxAttempts: 4, InitialIntervalMs: 100, MaxIntervalMs: 300, Factor: 2})
	assert.Equal(t, 4, p.GetMaxAttempts())
	assert.Equal(t, 100, p.GetBackoffInterval(1))
	assert.Equal(t, 200, p.GetBackoffInterval(2))
	assert.Equal(t, 300, p.GetBackoffInterval(3))
}

func TestShouldRetry(t *testing.T) {
	p := retry.NewPolicy(config.RetryConfig{MaxAttempts: 3})
	assert.False(t, p.ShouldRetry(nil))
	assert.False(t, p.ShouldRetry(errors.New("bad request")))
	assert.True(t, p.ShouldRetry(retry.Retryable(errors.New("status 503"))))
	assert.False(t, p.ShouldRetry(retry.Retryable(context.Canceled)))
}

func TestDo(t *testing.T) {
	p := retry.NewPolicy(config.RetryConfig{MaxAttempts: 3, InitialIntervalMs: 1, Factor: 1})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := retry.Do(context.Background(), p, "upload", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return retry.Retryable(errors.New("connection refused"))
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		cause := errors.New("status 503")
		err := retry.Do(context.Background(), p, "upload", func(ctx context.Context) error {
			calls++
			return retry.Retryable(cause)
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		calls := 0
		err := retry.Do(context.Background(), p, "upload", func(ctx context.Context) error {
			calls++
			return errors.New("status 400")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
