package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps fixed-window counters in Redis.
type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client}
}

// Incr bumps the counter at key and returns the new count together with
// the time left in the window. The expiry is only set when the window
// opens so that repeated hits do not extend it.
func (s *RedisStorage) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}

	if count == 1 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, 0, err
		}
		return count, ttl, nil
	}

	remaining, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if remaining < 0 {
		// Lost expiry (e.g. a crash between INCR and EXPIRE).
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, 0, err
		}
		remaining = ttl
	}

	return count, remaining, nil
}
