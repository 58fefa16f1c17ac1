package resilience

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRedisWindowLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	rl := NewRedisWindowLimiter(rdb, "rl:search", 2, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	assert.True(t, rl.Allow(ctx, "acme"))
	assert.True(t, rl.Allow(ctx, "acme"))
	assert.False(t, rl.Allow(ctx, "acme"))
	assert.True(t, rl.Allow(ctx, "globex"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow(ctx, "acme"), "next window has a fresh budget")
}

func TestRedisWindowLimiter_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	rl := NewRedisWindowLimiter(rdb, "rl", 1, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.True(t, rl.Allow(context.Background(), "acme"))
	assert.True(t, rl.Allow(context.Background(), "acme"))
}
