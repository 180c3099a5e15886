package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/ireporter/api/internal/log"
	"github.com/ireporter/api/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	// Parse redis URL (redis://host:port or redis://host:port/db)
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger := log.WithComponent("cache")
	logger.Info().Str("addr", opts.Addr).Msg("connected to redis")
	return newRedisCache(client, ttl, logger), nil
}

func newRedisCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Client exposes the underlying connection so other Redis-backed
// components can share it.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// GetRecord returns the cached record. Misses and Redis failures both
// report false so callers fall through to the store.
func (c *RedisCache) GetRecord(ctx context.Context, id int64) (*model.Record, bool) {
	data, err := c.client.Get(ctx, RecordKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Int64("record_id", id).Msg("cache get failed")
		}
		return nil, false
	}

	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Warn().Err(err).Int64("record_id", id).Msg("dropping undecodable cache entry")
		_ = c.client.Del(ctx, RecordKey(id)).Err()
		return nil, false
	}
	return &rec, true
}

func (c *RedisCache) SetRecord(ctx context.Context, rec *model.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, RecordKey(rec.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Int64("record_id", rec.ID).Msg("cache set failed")
	}
}

func (c *RedisCache) DeleteRecord(ctx context.Context, id int64) {
	if err := c.client.Del(ctx, RecordKey(id)).Err(); err != nil {
		c.logger.Warn().Err(err).Int64("record_id", id).Msg("cache invalidation failed")
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// RecordKey generates the cache key for a record, e.g. "record:17".
func RecordKey(id int64) string {
	return "record:" + strconv.FormatInt(id, 10)
}
