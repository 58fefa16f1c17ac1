package cancellation

import (
	"context"
	"sync"
)

// Queue holds pending tasks in FIFO order. Drained tasks stay visible to Lookup
// until they are acknowledged or requeued, so a booking is never missing from both
// the queue and the dead-letter store while the worker handles it.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	// Drain takes every queued task and marks it in flight.
	Drain(ctx context.Context) ([]Task, error)
	// Ack forgets an in-flight task.
	Ack(ctx context.Context, bookingID string) error
	// Requeue puts an in-flight task back at the tail.
	Requeue(ctx context.Context, t Task) error
	Lookup(ctx context.Context, bookingID string) (Task, bool, error)
	Len(ctx context.Context) (int, error)
}

type MemoryQueue struct {
	mu       sync.Mutex
	order    []string
	tasks    map[string]Task
	inflight map[string]bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{tasks: make(map[string]Task), inflight: make(map[string]bool)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tasks[t.BookingID]; ok {
		return nil
	}
	q.tasks[t.BookingID] = t
	q.order = append(q.order, t.BookingID)
	return nil
}

func (q *MemoryQueue) Drain(_ context.Context) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.tasks[id])
		q.inflight[id] = true
	}
	q.order = nil
	return out, nil
}

func (q *MemoryQueue) Ack(_ context.Context, bookingID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, bookingID)
	delete(q.tasks, bookingID)
	return nil
}

func (q *MemoryQueue) Requeue(_ context.Context, t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, t.BookingID)
	q.tasks[t.BookingID] = t
	q.order = append(q.order, t.BookingID)
	return nil
}

func (q *MemoryQueue) Lookup(_ context.Context, bookingID string) (Task, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[bookingID]
	return t, ok, nil
}

// Len counts queued tasks, excluding in-flight ones.
func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order), nil
}
