package booking

import (
	"context"
	"sync"
)

type inflightCall struct {
	fingerprint string
	waiters     []chan resultOrErr
}

type resultOrErr struct {
	res Result
	err error
}

// inflight collapses concurrent calls with the same key onto one execution. Late
// callers wait for the running call and receive its result.
type inflight struct {
	mu    sync.Mutex
	calls map[string]*inflightCall
}

func newInflight() *inflight {
	return &inflight{calls: make(map[string]*inflightCall)}
}

// do runs fn once per key at a time. shared reports whether the result came from
// another caller's execution. A caller whose fingerprint differs from the running
// call's gets ErrKeyReused instead of waiting.
func (g *inflight) do(ctx context.Context, key, fingerprint string, fn func(ctx context.Context) (Result, error)) (res Result, shared bool, err error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		if c.fingerprint != fingerprint {
			g.mu.Unlock()
			return Result{}, false, ErrKeyReused
		}
		ch := make(chan resultOrErr, 1)
		c.waiters = append(c.waiters, ch)
		g.mu.Unlock()
		select {
		case <-ctx.Done():
			return Result{}, true, ctx.Err()
		case r := <-ch:
			return r.res, true, r.err
		}
	}
	c := &inflightCall{fingerprint: fingerprint}
	g.calls[key] = c
	g.mu.Unlock()

	res, err = fn(ctx)

	g.mu.Lock()
	delete(g.calls, key)
	waiters := c.waiters
	c.waiters = nil
	g.mu.Unlock()

	for _, w := range waiters {
		w <- resultOrErr{res: res, err: err}
		close(w)
	}
	return res, false, err
}

func (g *inflight) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
