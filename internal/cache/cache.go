// Package cache provides a Redis-backed cache for decoded correction
// responses, so that resubmitting the same text does not cost another
// model call.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/correctnow/correctnow/internal/correct"
	"github.com/correctnow/correctnow/pkg/suggest"
)

const (
	defaultPrefix = "correctnow:resp:"
	defaultTTL    = 24 * time.Hour
)

// Compile-time interface assertion.
var _ correct.Cache = (*RedisCache)(nil)

// Option configures a [RedisCache].
type Option func(*RedisCache)

// WithPrefix sets the key prefix. Default: "correctnow:resp:".
func WithPrefix(p string) Option {
	return func(c *RedisCache) { c.prefix = p }
}

// WithTTL sets the expiry of stored entries. Non-positive values keep the
// default of 24h.
func WithTTL(d time.Duration) Option {
	return func(c *RedisCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// RedisCache implements [correct.Cache] on top of Redis string keys holding
// JSON-encoded [suggest.Response] values.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to the Redis server at redisURL (redis://[user:pass@]host:port/db)
// and verifies the connection with PING.
func New(ctx context.Context, redisURL string, opts ...Option) (*RedisCache, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}
	return NewWithClient(client, opts...), nil
}

// NewWithClient wraps an existing client. The cache takes ownership: Close
// closes the client.
func NewWithClient(client *redis.Client, opts ...Option) *RedisCache {
	c := &RedisCache{
		client: client,
		prefix: defaultPrefix,
		ttl:    defaultTTL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

// Get implements [correct.Cache]. A missing or expired key is a miss, not an
// error. An entry that no longer decodes is deleted and reported as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (suggest.Response, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return suggest.Response{}, false, nil
	}
	if err != nil {
		return suggest.Response{}, false, fmt.Errorf("cache: get: %w", err)
	}

	var resp suggest.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		_ = c.client.Del(ctx, c.key(key)).Err()
		return suggest.Response{}, false, nil
	}
	return resp, true, nil
}

// Set implements [correct.Cache].
func (c *RedisCache) Set(ctx context.Context, key string, resp suggest.Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache: marshal response: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set: %w", err)
	}
	return nil
}

// Delete removes a cached entry.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}

// Ping checks that Redis is reachable. It satisfies health.Pinger.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
