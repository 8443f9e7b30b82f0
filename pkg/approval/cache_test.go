package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("NewMemoryCache", func(t *testing.T) {
		ttl := 60 * time.Second
		cache := NewMemoryCache(ttl)

		require.NotNil(t, cache)
		assert.Equal(t, ttl, cache.cacheTTL)
		assert.Zero(t, cache.Len())
	})

	t.Run("Set and Get", func(t *testing.T) {
		cache := NewMemoryCache(time.Second)
		cache.Set(ctx, 1, "0xspender")

		spender, found := cache.Get(ctx, 1)
		assert.True(t, found)
		assert.Equal(t, "0xspender", spender)

		_, found = cache.Get(ctx, 56)
		assert.False(t, found)
	})

	t.Run("TTL expiration", func(t *testing.T) {
		now := time.Now()
		cache := NewMemoryCache(time.Minute)
		cache.now = func() time.Time { return now }
		cache.Set(ctx, 1, "0xspender")

		now = now.Add(59 * time.Second)
		_, found := cache.Get(ctx, 1)
		assert.True(t, found)

		now = now.Add(2 * time.Second)
		_, found = cache.Get(ctx, 1)
		assert.False(t, found)
	})

	t.Run("Clear", func(t *testing.T) {
		cache := NewMemoryCache(time.Second)
		cache.Set(ctx, 1, "0xa")
		cache.Set(ctx, 8453, "0xb")
		assert.Equal(t, 2, cache.Len())

		cache.Clear()
		_, found := cache.Get(ctx, 1)
		assert.False(t, found)
		assert.Zero(t, cache.Len())
	})
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "not a url", time.Minute)
	assert.ErrorContains(t, err, "invalid redis url")
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "resolver:approval:spender:8453", redisKey(8453))
}
