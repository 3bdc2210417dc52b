package vitis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis.
// It is designed to work with github.com/redis/go-redis/v9.
// Entries never expire in Redis itself; staleness is decided by the
// Extractor from the shared refresh timestamp.
type RedisStore struct {
	client *redis.Client
	prefix string // Optional key prefix (e.g., "vitis:")
	now    func() time.Time
}

// NewRedisStore creates a new Redis-backed store.
// The prefix parameter allows namespacing keys to avoid conflicts.
// If prefix is empty, "vitis:" is used by default.
func NewRedisStore(client *redis.Client, prefix string, opts ...StoreOption) *RedisStore {
	if prefix == "" {
		prefix = "vitis:"
	}
	cfg := newStoreConfig(opts)
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    cfg.now,
	}
}

// NewRedisStoreFromURL creates a Redis store from a connection URL.
// Example: "redis://localhost:6379/0" or "redis://:password@localhost:6379/1"
func NewRedisStoreFromURL(url string, prefix string, opts ...StoreOption) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	return NewRedisStore(client, prefix, opts...), nil
}

func (s *RedisStore) tableKey(key string) string {
	return s.prefix + "table:" + key
}

func (s *RedisStore) refreshKey() string {
	return s.prefix + "last_refresh"
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.tableKey(key)).Result()
	if err != nil {
		return false, storeErr("exists", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Read(ctx context.Context, key string) (*RecordSet, error) {
	data, err := s.client.Get(ctx, s.tableKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &NotFoundError{Key: key}
	}
	if err != nil {
		return nil, storeErr("read", key, err)
	}

	rs, err := UnmarshalRecordSet(data)
	if err != nil {
		return nil, storeErr("read", key, err)
	}
	return rs, nil
}

func (s *RedisStore) Write(ctx context.Context, key string, rs *RecordSet) error {
	data, err := MarshalRecordSet(rs)
	if err != nil {
		return storeErr("write", key, err)
	}

	now := strconv.FormatInt(s.now().UnixNano(), 10)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tableKey(key), data, 0)
		pipe.Set(ctx, s.refreshKey(), now, 0)
		return nil
	})
	return storeErr("write", key, err)
}

func (s *RedisStore) LastRefresh(ctx context.Context) (time.Time, error) {
	raw, err := s.client.Get(ctx, s.refreshKey()).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, storeErr("last_refresh", "", err)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, storeErr("last_refresh", "", fmt.Errorf("malformed timestamp %q: %w", raw, err))
	}
	return time.Unix(0, nanos), nil
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
