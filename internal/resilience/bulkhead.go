package resilience

import (
	"context"
	"errors"
	"time"
)

var ErrBusy = errors.New("service busy")

// Bulkhead bounds the number of concurrent outbound supplier calls across the
// whole process.
type Bulkhead struct {
	permits chan struct{}
	wait    time.Duration
}

func NewBulkhead(size int, wait time.Duration) *Bulkhead {
	if size < 1 {
		size = 1
	}
	return &Bulkhead{permits: make(chan struct{}, size), wait: wait}
}

// Acquire blocks for at most the configured wait. The returned release func must
// be called exactly once.
func (b *Bulkhead) Acquire(ctx context.Context) (func(), error) {
	select {
	case b.permits <- struct{}{}:
		return b.release, nil
	default:
	}
	t := time.NewTimer(b.wait)
	defer t.Stop()
	select {
	case b.permits <- struct{}{}:
		return b.release, nil
	case <-t.C:
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bulkhead) release() { <-b.permits }

// Do runs fn while holding a permit.
func (b *Bulkhead) Do(ctx context.Context, fn func() error) error {
	release, err := b.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// InUse returns the number of permits currently held.
func (b *Bulkhead) InUse() int { return len(b.permits) }
