// Package redis holds the Redis-backed user profile cache and the
// workflow-saved subscriber.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

type ClientOption func(*goredis.Client)

func WithHook(hook goredis.Hook) ClientOption {
	return func(rdb *goredis.Client) {
		if hook != nil {
			rdb.AddHook(hook)
		}
	}
}

// NewClient creates a go-redis client from a URL (e.g. "redis://localhost:6379")
// and verifies the connection.
func NewClient(ctx context.Context, redisURL string, opts ...ClientOption) (*goredis.Client, error) {
	parsed, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(parsed)
	for _, opt := range opts {
		opt(rdb)
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}
