package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
)

func ptr[T any](v T) *T { return &v }

func testIntent(id string, created time.Time) *models.Intent {
	return &models.Intent{
		IntentID:        id,
		UserID:          "user-1",
		ResolverID:      "resolver-1",
		SenderAddress:   "0x5555555555555555555555555555555555555555",
		SourceChainType: models.ChainTypeEVM,
		SourceChainID:   1,
		DestChainType:   models.ChainTypeEVM,
		DestChainID:     1,
		AmountIn:        "1000000",
		MinAmountOut:    "990000",
		Status:          models.StatusPending,
		CreatedAt:       created,
	}
}

func seeded(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"b", "a", "c"} {
		intent := testIntent(id, base.Add(time.Duration(i)*time.Minute))
		if id == "c" {
			intent.UserID = "user-2"
		}
		require.NoError(t, s.Create(context.Background(), intent))
	}
	return s
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.IntentID)

	got.Status = models.StatusFailed
	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, again.Status, "Get must return a copy")

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Create(ctx, testIntent("a", time.Now())), "duplicate id")

	bad := testIntent("d", time.Now())
	bad.AmountIn = "0"
	assert.Error(t, s.Create(ctx, bad))
}

func TestMemoryStore_Lists(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	pending, err := s.ListByStatus(ctx, models.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{pending[0].IntentID, pending[1].IntentID, pending[2].IntentID})

	byUser, err := s.ListByUser(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "c", byUser[0].IntentID)

	byResolver, err := s.ListByResolver(ctx, "resolver-1")
	require.NoError(t, err)
	assert.Len(t, byResolver, 3)

	none, err := s.ListByStatus(ctx, models.StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("writes only set fields", func(t *testing.T) {
		s := seeded(t)
		updated, err := s.Update(ctx, "a", Update{RetryCount: ptr(1), ErrorReason: ptr("quote failed")})
		require.NoError(t, err)
		assert.Equal(t, 1, updated.RetryCount)
		assert.Equal(t, "quote failed", updated.ErrorReason)
		assert.Equal(t, models.StatusPending, updated.Status)
		assert.Equal(t, "1000000", updated.AmountIn)
	})

	t.Run("completion requires actual amount", func(t *testing.T) {
		s := seeded(t)
		_, err := s.Update(ctx, "a", Update{Status: ptr(models.StatusCompleted)})
		assert.Error(t, err)

		_, err = s.Update(ctx, "a", Update{ActualAmountOut: ptr("997000")})
		assert.Error(t, err, "actual amount without completion")

		now := time.Now()
		done, err := s.Update(ctx, "a", Update{
			Status:          ptr(models.StatusCompleted),
			ActualAmountOut: ptr("997000"),
			TxHashSource:    ptr("0xswap"),
			CompletedAt:     &now,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, done.Status)
		require.NotNil(t, done.CompletedAt)
	})

	t.Run("terminal intents are frozen", func(t *testing.T) {
		s := seeded(t)
		_, err := s.Update(ctx, "a", Update{Status: ptr(models.StatusExpired), RefundTxHash: ptr("0xrefund")})
		require.NoError(t, err)

		_, err = s.Update(ctx, "a", Update{Status: ptr(models.StatusPending)})
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = s.Update(ctx, "a", Update{RetryCount: ptr(2)})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := NewMemoryStore().Update(ctx, "nope", Update{RetryCount: ptr(1)})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
