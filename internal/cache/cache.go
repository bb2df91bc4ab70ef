// Package cache provides Redis-backed caching with graceful degradation.
// When Redis is unavailable, operations return errors that callers handle by
// falling back to database queries.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/logging"
)

// Key formats for the cache types the engine uses
const (
	keyAnalytics    = "user:%s:analytics"
	keySyncCooldown = "user:%s:trade_sync"
)

// Default TTLs
const (
	AnalyticsTTL        = 5 * time.Minute
	DefaultSyncCooldown = 60 * time.Second
)

// ErrMiss is returned on a cache miss
var ErrMiss = errors.New("cache miss")

// Cache wraps a Redis client behind a small circuit breaker. Three straight
// failures mark it unhealthy; a background ping re-closes it.
type Cache struct {
	client *redis.Client
	logger *logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// New connects to Redis and returns a Cache. A disabled configuration skips
// the dial entirely; a failed initial ping returns the cache in degraded mode
// rather than an error. Either way callers fall through to the database.
func New(cfg config.RedisConfig, logger *logging.Logger) *Cache {
	if !cfg.Enabled {
		logger.WithComponent("cache").Info("redis disabled, running without cache")
		return &Cache{
			logger:        logger.WithComponent("cache"),
			maxFailures:   3,
			checkInterval: 30 * time.Second,
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	c := &Cache{
		client:        client,
		logger:        logger.WithComponent("cache"),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn("initial redis connection failed, running degraded", "error", err.Error())
		return c
	}

	c.healthy = true
	c.lastCheck = time.Now()
	c.logger.Info("redis connected", "address", cfg.Addr)
	return c
}

// Healthy reports whether Redis is currently usable
func (c *Cache) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Cache) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount++
	if c.failureCount >= c.maxFailures {
		if c.healthy {
			c.logger.Warn("redis marked unhealthy", "failures", c.failureCount)
		}
		c.healthy = false
	}
}

func (c *Cache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.healthy {
		c.logger.Info("redis recovered")
	}
	c.healthy = true
	c.failureCount = 0
	c.lastCheck = time.Now()
}

func (c *Cache) checkHealth() {
	if c.client == nil {
		return
	}

	c.mu.RLock()
	shouldCheck := !c.healthy && time.Since(c.lastCheck) >= c.checkInterval
	c.mu.RUnlock()

	if !shouldCheck {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.client.Ping(ctx).Err(); err == nil {
			c.recordSuccess()
		}
	}()
}

// GetJSON loads and unmarshals a cached value into dest. Returns ErrMiss when
// the key is absent or Redis is degraded.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	c.checkHealth()
	if !c.Healthy() {
		return ErrMiss
	}

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		c.recordFailure()
		return fmt.Errorf("redis get failed: %w", err)
	}

	c.recordSuccess()
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// SetJSON marshals and stores a value with a TTL. Degraded mode is a no-op.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.checkHealth()
	if !c.Healthy() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}

	c.recordSuccess()
	return nil
}

// Delete removes a key. Degraded mode is a no-op.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.checkHealth()
	if !c.Healthy() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.recordFailure()
		return fmt.Errorf("redis delete failed: %w", err)
	}

	c.recordSuccess()
	return nil
}

// TrySyncLock attempts to take the per-user profit-table sync cooldown slot.
// Returns true when the caller may sync now; false while the cooldown holds.
// When Redis is degraded the sync is allowed through.
func (c *Cache) TrySyncLock(ctx context.Context, userID string, cooldown time.Duration) (bool, error) {
	c.checkHealth()
	if !c.Healthy() {
		return true, nil
	}

	key := SyncCooldownKey(userID)
	ok, err := c.client.SetNX(ctx, key, time.Now().Unix(), cooldown).Result()
	if err != nil {
		c.recordFailure()
		return true, fmt.Errorf("redis setnx failed: %w", err)
	}

	c.recordSuccess()
	return ok, nil
}

// InvalidateAnalytics drops a user's cached analytics after a ledger write
func (c *Cache) InvalidateAnalytics(ctx context.Context, userID string) {
	if err := c.Delete(ctx, AnalyticsKey(userID)); err != nil {
		c.logger.Warn("analytics invalidation failed", "error", err.Error())
	}
}

// Close releases the Redis connection
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// AnalyticsKey is the cache key for a user's session analytics
func AnalyticsKey(userID string) string {
	return fmt.Sprintf(keyAnalytics, userID)
}

// SyncCooldownKey is the cache key for a user's trade-sync cooldown
func SyncCooldownKey(userID string) string {
	return fmt.Sprintf(keySyncCooldown, userID)
}
