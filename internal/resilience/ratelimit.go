package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiter admits or rejects one unit of work for a key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// Fixed window counter per key
type window struct {
	count int
	start time.Time
}

// WindowLimiter allows at most limit events per key in each fixed window.
// A limit of zero or less disables limiting.
type WindowLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	size    time.Duration
	now     func() time.Time
}

func NewWindowLimiter(limit int, size time.Duration) *WindowLimiter {
	return &WindowLimiter{windows: make(map[string]*window), limit: limit, size: size, now: time.Now}
}

func (rl *WindowLimiter) Allow(_ context.Context, key string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.size {
		rl.windows[key] = &window{count: 1, start: now}
		rl.sweep(now)
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// sweep drops windows that have closed so per-search keys do not accumulate.
func (rl *WindowLimiter) sweep(now time.Time) {
	if len(rl.windows) < 1024 {
		return
	}
	for k, w := range rl.windows {
		if now.Sub(w.start) >= rl.size {
			delete(rl.windows, k)
		}
	}
}
