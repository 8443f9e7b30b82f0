package approval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SpenderCache remembers the approval target per chain
type SpenderCache interface {
	Get(ctx context.Context, chainID int) (string, bool)
	Set(ctx context.Context, chainID int, spender string)
}

// MemoryCache is an in-process SpenderCache with a fixed TTL
type MemoryCache struct {
	mu       sync.RWMutex
	cache    map[int]*cachedSpender
	cacheTTL time.Duration
	now      func() time.Time
}

type cachedSpender struct {
	spender   string
	timestamp time.Time
}

// NewMemoryCache creates a new spender cache
func NewMemoryCache(cacheTTL time.Duration) *MemoryCache {
	return &MemoryCache{
		cache:    make(map[int]*cachedSpender),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Get returns a cached spender if it is still valid
func (c *MemoryCache) Get(_ context.Context, chainID int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, exists := c.cache[chainID]
	if !exists {
		return "", false
	}
	if c.now().Sub(cached.timestamp) > c.cacheTTL {
		return "", false
	}
	return cached.spender, true
}

// Set stores a spender with the current timestamp
func (c *MemoryCache) Set(_ context.Context, chainID int, spender string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[chainID] = &cachedSpender{
		spender:   spender,
		timestamp: c.now(),
	}
}

// Clear removes all cached entries
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[int]*cachedSpender)
}

// Len returns the number of entries, expired ones included
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

const redisKeyPrefix = "resolver:approval:spender:"

// RedisCache shares spenders between resolver processes
type RedisCache struct {
	client   *redis.Client
	cacheTTL time.Duration
	fallback *MemoryCache
}

// NewRedisCache connects to url and verifies the connection
func NewRedisCache(ctx context.Context, url string, cacheTTL time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client, cacheTTL: cacheTTL, fallback: NewMemoryCache(cacheTTL)}, nil
}

// Get reads through to redis and falls back to the local copy when redis errors
func (c *RedisCache) Get(ctx context.Context, chainID int) (string, bool) {
	v, err := c.client.Get(ctx, redisKey(chainID)).Result()
	switch {
	case err == nil:
		return v, true
	case errors.Is(err, redis.Nil):
		return "", false
	default:
		return c.fallback.Get(ctx, chainID)
	}
}

// Set writes the spender to redis and the local copy
func (c *RedisCache) Set(ctx context.Context, chainID int, spender string) {
	c.fallback.Set(ctx, chainID, spender)
	_ = c.client.Set(ctx, redisKey(chainID), spender, c.cacheTTL).Err()
}

// Close releases the redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(chainID int) string {
	return redisKeyPrefix + strconv.Itoa(chainID)
}
