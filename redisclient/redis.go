// Package redisclient wraps an optional Redis connection used for a
// distributed scan-slot semaphore and progress pub-sub fanout across
// replicas. The scanner runs correctly without Redis — callers fall back
// to in-process concurrency primitives when RedisURL is unset or
// unreachable, the same non-fatal-on-failure pattern used for every
// optional collaborator wired up in main.go.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokenforge/scanner/config"
)

type Client struct {
	c *redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if the Redis URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	r := redis.NewClient(opt)
	return &Client{c: r}, nil
}

func (r *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.c.Ping(ctx).Err()
}

// Raw exposes the underlying *redis.Client.
func (r *Client) Raw() *redis.Client { return r.c }
