package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertDeduplicator handles deduplication of budget alerts across instances.
// It ensures that the same alert is not sent multiple times when running
// multiple gateway instances. Monitor keys it by "provider/model", the same
// composite key Monitor.usage and Monitor.lastAlerts use, not by tenant —
// this gateway has no tenant concept (see DESIGN.md).
type AlertDeduplicator interface {
	// ShouldAlert checks if an alert should be sent for the given key
	// ("provider/model") and level. Returns true if this is a new alert
	// that should be dispatched, false if already sent by this or another
	// instance.
	ShouldAlert(ctx context.Context, key string, level AlertLevel) bool

	// ClearAlert removes the alert state for key (e.g., when usage drops
	// back below the warning threshold).
	ClearAlert(ctx context.Context, key string)
}

// InMemoryDeduplicator implements AlertDeduplicator using in-memory state.
// Suitable for single-instance deployments.
type InMemoryDeduplicator struct {
	mu         sync.RWMutex
	lastAlerts map[string]AlertLevel
}

// NewInMemoryDeduplicator creates a new in-memory alert deduplicator.
func NewInMemoryDeduplicator() *InMemoryDeduplicator {
	return &InMemoryDeduplicator{
		lastAlerts: make(map[string]AlertLevel),
	}
}

func (d *InMemoryDeduplicator) ShouldAlert(ctx context.Context, key string, level AlertLevel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	lastLevel, exists := d.lastAlerts[key]
	if exists && lastLevel == level {
		return false
	}

	d.lastAlerts[key] = level
	return true
}

func (d *InMemoryDeduplicator) ClearAlert(ctx context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastAlerts, key)
}

// RedisDeduplicator implements AlertDeduplicator using Redis for distributed state.
// Ensures alert deduplication across multiple gateway instances.
type RedisDeduplicator struct {
	client  *redis.Client
	lockTTL time.Duration
}

// NewRedisDeduplicator creates a new Redis-backed alert deduplicator.
// lockTTL determines how long an alert is considered "sent" before it can be re-sent.
// Recommended: 1 hour for budget alerts.
func NewRedisDeduplicator(redisURL string, lockTTL time.Duration) (*RedisDeduplicator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisDeduplicator{
		client:  client,
		lockTTL: lockTTL,
	}, nil
}

// NewRedisDeduplicatorWithClient creates a deduplicator with an existing Redis client.
func NewRedisDeduplicatorWithClient(client *redis.Client, lockTTL time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{
		client:  client,
		lockTTL: lockTTL,
	}
}

func (d *RedisDeduplicator) alertKey(key string, level AlertLevel) string {
	return fmt.Sprintf("budget:alert:%s:%s", key, level)
}

func (d *RedisDeduplicator) keyPattern(key string) string {
	return fmt.Sprintf("budget:alert:%s:*", key)
}

// ShouldAlert uses Redis SETNX for atomic check-and-set.
// Only one instance will successfully set the key and return true.
func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, key string, level AlertLevel) bool {
	redisKey := d.alertKey(key, level)

	// Try to acquire the "lock" for this alert
	// SETNX returns true only if the key didn't exist
	acquired, err := d.client.SetNX(ctx, redisKey, time.Now().Unix(), d.lockTTL).Result()
	if err != nil {
		// On Redis error, allow the alert (fail open)
		return true
	}

	return acquired
}

// ClearAlert removes all alert keys for key.
// Called when usage drops below warning threshold.
func (d *RedisDeduplicator) ClearAlert(ctx context.Context, key string) {
	// Find all alert keys for this provider/model
	pattern := d.keyPattern(key)
	keys, err := d.client.Keys(ctx, pattern).Result()
	if err != nil || len(keys) == 0 {
		return
	}

	// Delete all found keys
	d.client.Del(ctx, keys...)
}

// Close closes the Redis connection.
func (d *RedisDeduplicator) Close() error {
	return d.client.Close()
}
