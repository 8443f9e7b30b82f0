package blockchain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
)

func TestNextNonce(t *testing.T) {
	pending := func(n uint64) NonceSource {
		return func(ctx context.Context) (uint64, error) { return n, nil }
	}

	t.Run("node pending nonce when nothing tracked", func(t *testing.T) {
		nm := NewNonceManager(&logger.EmptyLogger{})
		got, err := nm.NextNonce(context.Background(), 1, "0xabc", pending(7))
		require.NoError(t, err)
		assert.Equal(t, uint64(7), got)
	})

	t.Run("tracked pending record raises the nonce", func(t *testing.T) {
		nm := NewNonceManager(&logger.EmptyLogger{})
		nm.TrackTransaction(1, "0xabc", "0x01", 7, 1)
		got, err := nm.NextNonce(context.Background(), 1, "0xABC", pending(7))
		require.NoError(t, err)
		assert.Equal(t, uint64(8), got)
	})

	t.Run("node ahead of tracked records wins", func(t *testing.T) {
		nm := NewNonceManager(&logger.EmptyLogger{})
		nm.TrackTransaction(1, "0xabc", "0x01", 3, 1)
		got, err := nm.NextNonce(context.Background(), 1, "0xabc", pending(9))
		require.NoError(t, err)
		assert.Equal(t, uint64(9), got)
	})

	t.Run("failed record frees its nonce", func(t *testing.T) {
		nm := NewNonceManager(&logger.EmptyLogger{})
		nm.TrackTransaction(1, "0xabc", "0x01", 7, 1)
		require.True(t, nm.MarkTransactionFailed(1, "0xabc", "0x01"))
		got, err := nm.NextNonce(context.Background(), 1, "0xabc", pending(7))
		require.NoError(t, err)
		assert.Equal(t, uint64(7), got)
	})

	t.Run("other signer records are ignored", func(t *testing.T) {
		nm := NewNonceManager(&logger.EmptyLogger{})
		nm.TrackTransaction(1, "0xdef", "0x01", 7, 1)
		nm.TrackTransaction(8453, "0xabc", "0x02", 7, 1)
		got, err := nm.NextNonce(context.Background(), 1, "0xabc", pending(7))
		require.NoError(t, err)
		assert.Equal(t, uint64(7), got)
	})

	t.Run("stale records expire", func(t *testing.T) {
		nm := NewNonceManager(&logger.EmptyLogger{})
		nm.SetTransactionTimeout(0)
		nm.TrackTransaction(1, "0xabc", "0x01", 7, 1)
		time.Sleep(time.Millisecond)
		got, err := nm.NextNonce(context.Background(), 1, "0xabc", pending(7))
		require.NoError(t, err)
		assert.Equal(t, uint64(7), got)
		assert.Zero(t, nm.GetPendingTransactionsCount(1, "0xabc"))
	})

	t.Run("source error", func(t *testing.T) {
		nm := NewNonceManager(&logger.EmptyLogger{})
		_, err := nm.NextNonce(context.Background(), 1, "0xabc", func(ctx context.Context) (uint64, error) {
			return 0, errors.New("rpc down")
		})
		assert.ErrorContains(t, err, "rpc down")
	})
}

func TestAcquireSerializesPerSigner(t *testing.T) {
	nm := NewNonceManager(&logger.EmptyLogger{})

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := nm.Acquire(context.Background(), 8453, "0xABC")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight)
}

func TestAcquireIndependentSigners(t *testing.T) {
	nm := NewNonceManager(&logger.EmptyLogger{})

	release, err := nm.Acquire(context.Background(), 1, "0xabc")
	require.NoError(t, err)
	defer release()

	// different chain, same key
	other, err := nm.Acquire(context.Background(), 8453, "0xabc")
	require.NoError(t, err)
	other()

	// same chain and key, address case differs
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = nm.Acquire(ctx, 1, "0xABC")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTrackAndFinish(t *testing.T) {
	nm := NewNonceManager(&logger.EmptyLogger{})
	nm.TrackTransaction(1, "0xabc", "0x01", 5, 1)
	nm.TrackTransaction(1, "0xabc", "0x02", 6, 2)
	assert.Equal(t, 2, nm.GetPendingTransactionsCount(1, "0xabc"))

	assert.True(t, nm.MarkTransactionConfirmed(1, "0xabc", "0x01"))
	assert.False(t, nm.MarkTransactionConfirmed(1, "0xabc", "0x01"))
	assert.True(t, nm.MarkTransactionFailed(1, "0xABC", "0x02"))
	assert.Zero(t, nm.GetPendingTransactionsCount(1, "0xabc"))
}

func TestScaleByMultiplier(t *testing.T) {
	assert.Equal(t, big.NewInt(120), ScaleByMultiplier(big.NewInt(100), 1.2))
	assert.Equal(t, big.NewInt(100), ScaleByMultiplier(big.NewInt(100), 0))
	assert.Nil(t, ScaleByMultiplier(nil, 1.5))
}

func TestParseEVMKey(t *testing.T) {
	// well-known hardhat account #0
	_, addr, err := ParseEVMKey("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", addr.Hex())

	_, _, err = ParseEVMKey("nope")
	assert.Error(t, err)
}
