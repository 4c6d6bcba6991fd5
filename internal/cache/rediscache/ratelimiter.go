package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	c   *redis.Client
	now func() time.Time
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		c:   redis.NewClient(&redis.Options{Addr: addr}),
		now: time.Now,
	}
}

// Allow делает INCR по ключу и ставит TTL, если ключ создаётся впервые.
// Возвращает (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}

// AllowWebhook: фиксированное минутное окно на перевозчика.
func (rl *RateLimiter) AllowWebhook(ctx context.Context, carrier string, perMinute int64) (bool, error) {
	if perMinute <= 0 {
		return true, nil
	}
	key := fmt.Sprintf("rl:webhook:%s:%d", carrier, rl.now().Unix()/60)
	ok, _, err := rl.Allow(ctx, key, perMinute, time.Minute)
	return ok, err
}

func (rl *RateLimiter) Close() error {
	return rl.c.Close()
}
