package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"stocksync-api/internal/logger"
)

// clearIndexedScript deletes every key listed in the index set, then the set.
var clearIndexedScript = redis.NewScript(`
	local keys = redis.call("SMEMBERS", KEYS[1])
	for i = 1, #keys, 500 do
		redis.call("DEL", unpack(keys, i, math.min(i + 499, #keys)))
	end
	redis.call("DEL", KEYS[1])
	return #keys
`)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisCache is a Cache shared between replicas. Keys are namespaced by
// KeyPrefix and tracked in an index set so Clear only touches our keys.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisCache connects and pings Redis.
func NewRedisCache(ctx context.Context, cfg RedisConfig, log *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 5,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "stocksync:inventory"
	}

	l := logger.OrNop(log).Named("redis")
	l.Info("cache connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB), zap.String("prefix", prefix))
	return &RedisCache{client: client, prefix: prefix, logger: l}, nil
}

func (c *RedisCache) key(k string) string {
	return c.prefix + ":" + k
}

func (c *RedisCache) indexKey() string {
	return c.prefix + ":_keys"
}

// Get returns the value for key, or ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Set stores value and records the key in the index.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(key), value, ttl)
	pipe.SAdd(ctx, c.indexKey(), c.key(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys and their index entries.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
		members[i] = full[i]
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, full...)
	pipe.SRem(ctx, c.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// GetOrSet returns the cached value or stores the result of fn.
func (c *RedisCache) GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error) {
	v, err := c.Get(ctx, key)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("cache read failed, falling through", zap.String("key", key), zap.Error(err))
	}

	v, err = fn()
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

// Clear removes every indexed key.
func (c *RedisCache) Clear(ctx context.Context) error {
	n, err := clearIndexedScript.Run(ctx, c.client, []string{c.indexKey()}).Int()
	if err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	c.logger.Debug("cache cleared", zap.Int("keys", n))
	return nil
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
