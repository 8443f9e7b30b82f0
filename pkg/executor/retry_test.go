package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, LinearBackoff(base, 1))
	assert.Equal(t, 6*time.Second, LinearBackoff(base, 3))
	assert.Equal(t, 2*time.Second, ExponentialBackoff(base, 1))
	assert.Equal(t, 4*time.Second, ExponentialBackoff(base, 2))
	assert.Equal(t, 16*time.Second, ExponentialBackoff(base, 4))
}

func TestRetry(t *testing.T) {
	policy := retryPolicy{chainID: 1, maxRetries: 3, base: time.Millisecond, backoff: LinearBackoff, logger: &logger.EmptyLogger{}}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		out, err := retry(context.Background(), policy, "op", func(attempt int) (int, error) {
			calls++
			if attempt < 3 {
				return 0, swaperr.New(swaperr.KindTransport, "op", "flaky")
			}
			return attempt, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, out)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		_, err := retry(context.Background(), policy, "op", func(int) (int, error) {
			calls++
			return 0, swaperr.New(swaperr.KindInsufficientFunds, "op", "broke")
		})
		assert.True(t, swaperr.Is(err, swaperr.KindInsufficientFunds))
		assert.False(t, swaperr.Is(err, swaperr.KindMaxRetriesExceeded))
		assert.Equal(t, 1, calls)
	})

	t.Run("wraps the last error when exhausted", func(t *testing.T) {
		last := errors.New("still down")
		_, err := retry(context.Background(), policy, "op", func(int) (int, error) {
			return 0, last
		})
		assert.Equal(t, swaperr.KindMaxRetriesExceeded, swaperr.KindOf(err))
		assert.ErrorIs(t, err, last)
	})

	t.Run("cancelled context ends the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := policy
		slow.base = time.Hour
		_, err := retry(ctx, slow, "op", func(int) (int, error) {
			cancel()
			return 0, errors.New("down")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
