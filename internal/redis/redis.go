package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/config"
)

// Client wraps go-redis with the few operations the session cache needs.
// A nil *Client is valid and reports ErrDisabled.
type Client struct {
	inner *redis.Client
}

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = redis.Nil

var ErrDisabled = errors.New("redis client not initialized")

// NewRedisClient connects using cfg. It returns nil, nil when redis is disabled.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	return Connect(ctx, &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Connect dials and pings with the given options.
func Connect(ctx context.Context, opts *redis.Options) (*Client, error) {
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &Client{inner: client}, nil
}

// SetJSON stores value encoded as JSON with TTL.
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.inner == nil {
		return ErrDisabled
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.inner.Set(ctx, key, data, ttl).Err()
}

// GetJSON decodes the value at key into dst. A missing key yields ErrCacheMiss.
func (c *Client) GetJSON(ctx context.Context, key string, dst any) error {
	if c == nil || c.inner == nil {
		return ErrDisabled
	}
	raw, err := c.inner.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Del removes provided keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c == nil || c.inner == nil {
		return ErrDisabled
	}
	if len(keys) == 0 {
		return nil
	}
	return c.inner.Del(ctx, keys...).Err()
}

// Publish sends payload on channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if c == nil || c.inner == nil {
		return ErrDisabled
	}
	return c.inner.Publish(ctx, channel, payload).Err()
}

// Subscribe delivers channel payloads to handler until ctx is done.
func (c *Client) Subscribe(ctx context.Context, channel string, handler func([]byte)) error {
	if c == nil || c.inner == nil {
		return ErrDisabled
	}
	pubsub := c.inner.Subscribe(ctx, channel)
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handler([]byte(msg.Payload))
		}
	}
}

// Close closes client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
