package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	vaultredis "github.com/LerianStudio/shared-vault/vault/redis"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "ratelimit:"
	scanBatchSize = 100
	opTimeout     = time.Second
)

// RedisStorage implements fiber.Storage over the shared Redis client.
type RedisStorage struct {
	rdb redis.UniversalClient
}

var _ fiber.Storage = (*RedisStorage)(nil)

// NewRedisStorage returns nil when client is nil.
func NewRedisStorage(client *vaultredis.Client) *RedisStorage {
	if client == nil || client.Raw() == nil {
		return nil
	}

	return &RedisStorage{rdb: client.Raw()}
}

// Get returns nil, nil when the key does not exist.
func (s *RedisStorage) Get(key string) ([]byte, error) {
	if s == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	val, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	return val, nil
}

// Set stores val for exp. Zero exp keeps the key forever; empty key or
// value is ignored.
func (s *RedisStorage) Set(key string, val []byte, exp time.Duration) error {
	if s == nil || key == "" || len(val) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.rdb.Set(ctx, keyPrefix+key, val, exp).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes key. A missing key is not an error.
func (s *RedisStorage) Delete(key string) error {
	if s == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}

	return nil
}

// Reset deletes every rate limit key.
func (s *RedisStorage) Reset() error {
	if s == nil {
		return nil
	}

	ctx := context.Background()

	var cursor uint64

	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, keyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}

		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis batch delete: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close is a no-op; the client belongs to the process lifecycle.
func (*RedisStorage) Close() error {
	return nil
}
