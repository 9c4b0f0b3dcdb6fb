package cache

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Redis stores embeddings in a shared Redis instance so several replicas reuse
// each other's work.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to redisURL and verifies the connection with PING.
func NewRedis(redisURL string, ttlSeconds int, logger *zap.Logger) (*Redis, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis cache requires a url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger != nil {
		logger.Info("Embedding cache connected",
			zap.String("backend", BackendRedis),
			zap.String("redis_url", maskRedisURL(redisURL)),
			zap.Int("ttl_seconds", ttlSeconds))
	}
	return &Redis{client: client, ttl: time.Duration(ttlSeconds) * time.Second}, nil
}

// Get returns the cached embedding for key.
func (c *Redis) Get(ctx context.Context, key string) ([]float32, bool, error) {
	buf, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	v, err := decodeVector(buf)
	if err != nil {
		c.client.Del(ctx, key)
		return nil, false, err
	}
	return v, true, nil
}

// Set stores value under key with the configured TTL.
func (c *Redis) Set(ctx context.Context, key string, value []float32) error {
	if err := c.client.Set(ctx, key, encodeVector(value), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the client.
func (c *Redis) Close() error {
	return c.client.Close()
}

func maskRedisURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
