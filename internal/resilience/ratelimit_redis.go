package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindowLimiter is a WindowLimiter whose counters live in redis so that
// several aggregator processes share one budget per key.
type RedisWindowLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	limit  int
	size   time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewRedisWindowLimiter(rdb redis.UniversalClient, prefix string, limit int, size time.Duration, logger *slog.Logger) *RedisWindowLimiter {
	return &RedisWindowLimiter{rdb: rdb, prefix: prefix, limit: limit, size: size, logger: logger, now: time.Now}
}

// Allow fails open when redis is unreachable; a supplier budget outage must not
// take search down with it.
func (rl *RedisWindowLimiter) Allow(ctx context.Context, key string) bool {
	if rl.limit <= 0 {
		return true
	}
	slot := rl.now().UnixNano() / int64(rl.size)
	k := fmt.Sprintf("%s:%s:%d", rl.prefix, key, slot)

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*rl.size)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Warn("rate limiter unavailable, allowing", "key", key, "error", err)
		return true
	}
	return incr.Val() <= int64(rl.limit)
}
