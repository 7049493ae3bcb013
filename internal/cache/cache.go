// Package cache memoizes catalog model lookups. spec.md's Non-goals
// explicitly exclude cross-request completion caching (§1); this package
// never caches completions. Instead it caches the read-amplified part of the Catalog Accessor — repeated
// GetModel(provider, model) lookups against the current snapshot, which
// §4.A treats as an external, optimizable interface. Grounded on the
// teacher's internal/cache/cache.go backend split (in-memory + Redis);
// the cached value changes from a chat response to a domain.Model.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/llmgateway/gateway/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Cache defines the interface for model-lookup caching backends.
type Cache interface {
	Get(ctx context.Context, key string) (domain.Model, bool)
	Set(ctx context.Context, key string, model domain.Model, ttl time.Duration)
}

// ModelKey builds the cache key for a (provider, model) pair, matching
// domain.Model.Key.
func ModelKey(providerName, modelName string) string {
	return providerName + "/" + modelName
}

type InMemoryCache struct {
	mu    sync.RWMutex
	items map[string]*cacheItem
}

type cacheItem struct {
	model     domain.Model
	expiresAt time.Time
}

func NewInMemoryCache() *InMemoryCache {
	c := &InMemoryCache{
		items: make(map[string]*cacheItem),
	}
	go c.cleanup()
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (domain.Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok {
		return domain.Model{}, false
	}
	if time.Now().After(item.expiresAt) {
		return domain.Model{}, false
	}
	return item.model, true
}

func (c *InMemoryCache) Set(ctx context.Context, key string, model domain.Model, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &cacheItem{
		model:     model,
		expiresAt: time.Now().Add(ttl),
	}
}

func (c *InMemoryCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, item := range c.items {
			if now.After(item.expiresAt) {
				delete(c.items, key)
			}
		}
		c.mu.Unlock()
	}
}

// RedisCache backs the same interface with a shared Redis instance, for
// deployments running more than one gateway process against one catalog.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (domain.Model, bool) {
	data, err := c.client.Get(ctx, "catalog:model:"+key).Bytes()
	if err != nil {
		return domain.Model{}, false
	}

	var model domain.Model
	if err := json.Unmarshal(data, &model); err != nil {
		return domain.Model{}, false
	}
	return model, true
}

func (c *RedisCache) Set(ctx context.Context, key string, model domain.Model, ttl time.Duration) {
	data, err := json.Marshal(model)
	if err != nil {
		return
	}
	c.client.Set(ctx, "catalog:model:"+key, data, ttl)
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
