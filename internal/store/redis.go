package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lancachetools/lansync/internal/common/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore implements Store using Redis. Useful when several lansync
// instances should share one durable snapshot.
type RedisStore struct {
	logger *zap.Logger
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(logger *zap.Logger, cfg config.StoreRedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "lansync:"
	} else {
		prefix = prefix + ":"
	}

	return &RedisStore{
		logger: logger.Named("store.redis"),
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
	}, nil
}

// Get implements Store.Get
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set implements Store.Set
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.prefix+key, value, s.ttl).Err()
}

// Delete implements Store.Delete
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Close implements Store.Close
func (s *RedisStore) Close() error {
	return s.client.Close()
}
