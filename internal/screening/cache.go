package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"paygate/internal/payroll/address"
	"paygate/pkg/platform/sentinel"
)

const cacheKeyPrefix = "paygate:screening:"

// Cache stores screening results by wallet. Get returns sentinel.ErrNotFound
// on a miss.
type Cache interface {
	Get(ctx context.Context, wallet address.Address) (*Result, error)
	Set(ctx context.Context, result *Result) error
}

// RedisCache keeps results in Redis for StaleLimit. Freshness is decided by
// the reader from Result.CheckedAt, so entries outlive the fresh TTL and
// remain available as a fallback.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func cacheKey(wallet address.Address) string {
	return cacheKeyPrefix + wallet.String()
}

func (c *RedisCache) Get(ctx context.Context, wallet address.Address) (*Result, error) {
	raw, err := c.client.Get(ctx, cacheKey(wallet)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get screening result: %w", err)
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode screening result: %w", err)
	}
	return &result, nil
}

func (c *RedisCache) Set(ctx context.Context, result *Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode screening result: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(result.Wallet), raw, StaleLimit).Err(); err != nil {
		return fmt.Errorf("set screening result: %w", err)
	}
	return nil
}

// MemoryCache is a process-local Cache for development and tests.
type MemoryCache struct {
	mu      sync.RWMutex
	results map[address.Address]Result
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{results: make(map[address.Address]Result)}
}

func (c *MemoryCache) Get(_ context.Context, wallet address.Address) (*Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.results[wallet]
	if !ok || time.Since(result.CheckedAt) > StaleLimit {
		return nil, sentinel.ErrNotFound
	}
	return &result, nil
}

func (c *MemoryCache) Set(_ context.Context, result *Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[result.Wallet] = *result
	return nil
}
