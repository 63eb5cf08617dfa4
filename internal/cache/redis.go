package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the shared tier visible to every worker process.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps a go-redis client. prefix is prepended to every key.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Get fetches the value and its remaining TTL in a single round trip.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, time.Duration, error) {
	pipe := r.client.Pipeline()
	get := pipe.Get(ctx, r.prefix+key)
	ttl := pipe.PTTL(ctx, r.prefix+key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, err
	}
	value, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, ErrMiss
	}
	if err != nil {
		return nil, 0, err
	}
	remaining := ttl.Val()
	if remaining < 0 {
		remaining = 0
	}
	return value, remaining, nil
}

// Set writes value with ttl. A non-positive ttl removes the key.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return r.Delete(ctx, key)
	}
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
