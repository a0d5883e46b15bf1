package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/coachpo/pricebridge/internal/domain/schema"
)

// RedisStore keeps JSON-encoded results in redis with a TTL.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// RedisOptions configures a redis-backed store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisClient dials redis using opts.
func NewRedisClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Put writes entries in a single pipeline.
func (s *RedisStore) Put(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			payload, err := json.Marshal(e.Result)
			if err != nil {
				return fmt.Errorf("encode cache entry %s: %w", e.Key, err)
			}
			pipe.Set(ctx, s.prefix+e.Key, string(payload), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// Get reads the result at key; a redis miss is not an error.
func (s *RedisStore) Get(ctx context.Context, key string) (schema.Result, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return schema.Result{}, false, nil
		}
		return schema.Result{}, false, fmt.Errorf("redis get: %w", err)
	}
	var result schema.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return schema.Result{}, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return result, true, nil
}
