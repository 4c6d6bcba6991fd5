package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	c *redis.Client
}

func New(addr string) *RedisCache {
	return &RedisCache{
		c: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.c.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.c.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

// SetNX ставит ключ, только если его нет. true: ключ поставили мы.
func (r *RedisCache) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.c.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis setnx")
	}
	return ok, nil
}

// Publish отправляет сообщение в pub/sub канал; возвращает число подписчиков.
func (r *RedisCache) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	n, err := r.c.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis publish")
	}
	return n, nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return errors.Wrap(r.c.Ping(ctx).Err(), "redis ping")
}

func (r *RedisCache) Close() error {
	return r.c.Close()
}
