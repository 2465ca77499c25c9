// Package redis connects the shared Redis instance: a go-redis client for
// direct commands and a fiber storage over the same URL for the visitor
// store and the rate limiter.
package redis

import (
	"context"
	"fmt"
	"time"

	fiberredis "github.com/gofiber/storage/redis/v3"
	"github.com/redis/go-redis/v9"
)

// Client wraps the go-redis client with health checking capabilities.
type Client struct {
	*redis.Client
	url string
}

// New creates a new Redis client from url.
// Returns nil if the URL is empty (Redis not configured).
func New(ctx context.Context, url string) (*Client, error) {
	if url == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client, url: url}, nil
}

// Health checks if the Redis connection is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// IsMember reports whether member belongs to the set at key.
func (c *Client) IsMember(ctx context.Context, key, member string) (bool, error) {
	return c.SIsMember(ctx, key, member).Result()
}

// Storage opens a fiber storage on the same server. The storage holds its
// own connection pool; the caller closes it.
func (c *Client) Storage() *fiberredis.Storage {
	return fiberredis.New(fiberredis.Config{URL: c.url})
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.Client.Close()
}
