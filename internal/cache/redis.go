package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Tier is an optional second cache level holding JSON-encoded values
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// RedisTier stores entries in Redis. Every failure is treated as a miss so the
// engine keeps working memory-only when Redis is down.
type RedisTier struct {
	client redis.Cmdable
	prefix string
}

// NewRedisTier wraps an existing client
func NewRedisTier(client redis.Cmdable, prefix string) *RedisTier {
	return &RedisTier{client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies it with PING
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Get returns the raw value for key
func (r *RedisTier) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Str("key", key).Msg("redis get failed")
		}
		return nil, false
	}
	return raw, true
}

// Set writes the value with TTL
func (r *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, r.prefix+key, string(value), ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("redis set failed")
	}
}

// Delete removes key so peers stop serving it
func (r *RedisTier) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("redis del failed")
	}
}
