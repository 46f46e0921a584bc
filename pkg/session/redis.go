package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ Storage = (*RedisStorage)(nil)

// RedisStorage keeps one tab's artifacts in a redis hash. Every write
// refreshes the hash TTL, so abandoned tabs age out on their own.
type RedisStorage struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisStorage creates storage for one console token under keyPrefix.
func NewRedisStorage(
	client redis.UniversalClient,
	keyPrefix, consoleToken string,
	ttl time.Duration,
) *RedisStorage {
	return &RedisStorage{
		client: client,
		key:    keyPrefix + consoleToken,
		ttl:    ttl,
	}
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.key, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("reading %q: %w", key, err)
	}

	return v, true, nil
}

func (r *RedisStorage) Set(ctx context.Context, key, value string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, key, value)

		if r.ttl > 0 {
			pipe.Expire(ctx, r.key, r.ttl)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}

	return nil
}

func (r *RedisStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	all, err := r.client.HKeys(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}

	keys := make([]string, 0, len(all))

	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)

	return keys, nil
}

func (r *RedisStorage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := r.client.HDel(ctx, r.key, keys...).Err(); err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}

	return nil
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}
