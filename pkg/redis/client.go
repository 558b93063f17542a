// Package redis wraps the go-redis client with the small surface the
// engine needs: key/value helpers, distributed locks, streams, and a DLQ.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"
)

// Config holds the redis connection settings
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Client wraps the go-redis client
type Client struct {
	rdb    *redis.Client
	logger ectologger.Logger
}

// NewClient creates a redis client and verifies connectivity
func NewClient(ctx context.Context, cfg Config, logger ectologger.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.WithContext(ctx).WithFields(map[string]any{
		"host": cfg.Host,
		"port": cfg.Port,
		"db":   cfg.DB,
	}).Info("connected to redis")

	return &Client{rdb: rdb, logger: logger}, nil
}

// Redis exposes the underlying go-redis client
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Get returns the value at key. Returns redis.Nil error if the key is missing.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// Set stores a value with a TTL. A zero TTL means no expiration.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX stores a value only if the key does not exist
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Del removes keys
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Exists reports how many of the given keys exist
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	return c.rdb.Exists(ctx, keys...).Result()
}

// Incr atomically increments the integer at key and returns the new value
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

// delIfAllExistScript deletes every key only if the first ARGV[1] keys all
// exist. The check and the delete are one atomic step.
var delIfAllExistScript = redis.NewScript(`
for i = 1, tonumber(ARGV[1]) do
	if redis.call("exists", KEYS[i]) == 0 then
		return 0
	end
end
redis.call("del", unpack(KEYS))
return 1
`)

// DelIfAllExist atomically checks that every key in checkKeys exists and, if
// so, deletes checkKeys plus extraKeys in the same step. Returns whether the
// delete happened. Concurrent callers see at most one true.
func (c *Client) DelIfAllExist(ctx context.Context, checkKeys, extraKeys []string) (bool, error) {
	keys := make([]string, 0, len(checkKeys)+len(extraKeys))
	keys = append(keys, checkKeys...)
	keys = append(keys, extraKeys...)

	res, err := delIfAllExistScript.Run(ctx, c.rdb, keys, len(checkKeys)).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Expire sets a TTL on an existing key
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// TTL returns the remaining time to live of a key
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}
