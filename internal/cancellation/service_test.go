package cancellation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/models"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/obs"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/resilience"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/store"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/supplier"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/token"
)

type cancelSupplier struct {
	code   string
	cancel func(ctx context.Context, cmd supplier.CancelCommand) (supplier.CancelResponse, error)
	calls  atomic.Int32
}

func (c *cancelSupplier) Code() string                        { return c.code }
func (c *cancelSupplier) Capabilities() supplier.Capabilities { return supplier.Capabilities{} }
func (c *cancelSupplier) Search(context.Context, supplier.SearchCommand, time.Duration) (supplier.SearchResponse, error) {
	return supplier.SearchResponse{}, supplier.ErrNotSupported
}
func (c *cancelSupplier) Poll(context.Context, string) (supplier.SearchResponse, error) {
	return supplier.SearchResponse{}, supplier.ErrNotSupported
}
func (c *cancelSupplier) Book(context.Context, supplier.BookCommand, time.Duration) (supplier.BookResponse, error) {
	return supplier.BookResponse{}, supplier.ErrNotSupported
}
func (c *cancelSupplier) Cancel(ctx context.Context, cmd supplier.CancelCommand) (supplier.CancelResponse, error) {
	c.calls.Add(1)
	return c.cancel(ctx, cmd)
}
func (c *cancelSupplier) Amend(context.Context, supplier.AmendCommand) (supplier.AmendResponse, error) {
	return supplier.AmendResponse{}, supplier.ErrNotSupported
}

func alwaysFail(context.Context, supplier.CancelCommand) (supplier.CancelResponse, error) {
	return supplier.CancelResponse{}, resilience.ServerError(http.StatusServiceUnavailable, "DOWN", errors.New("supplier down"))
}

func succeed(context.Context, supplier.CancelCommand) (supplier.CancelResponse, error) {
	return supplier.CancelResponse{Status: supplier.CancelCancelled, Refund: &models.Price{Amount: 45, Currency: "EUR"}}, nil
}

type env struct {
	svc    *Service
	worker *Worker
	codec  *token.Codec
	queue  *MemoryQueue
}

func newEnv(t *testing.T, suppliers ...supplier.Supplier) *env {
	t.Helper()
	codec, err := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	q := NewMemoryQueue()
	svc := NewService(Deps{
		Registry:    supplier.NewRegistry(suppliers...),
		Codec:       codec,
		Bulkhead:    resilience.NewBulkhead(8, 10*time.Millisecond),
		Queue:       q,
		DeadLetters: NewDeadLetters(store.NewMemory(0)),
		Metrics:     obs.NewNop(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Settings{SyncTimeout: 50 * time.Millisecond, MaxRetries: 3, TaskExpiry: time.Hour})
	return &env{svc: svc, worker: NewWorker(svc, time.Hour), codec: codec, queue: q}
}

func (e *env) bookingID(t *testing.T, code, reservation string) string {
	t.Helper()
	conf := "CNF-" + reservation
	id, err := e.codec.EncodeBooking(token.BookingRef{SupplierCode: code, ReservationID: reservation, ConfirmationNumber: &conf})
	require.NoError(t, err)
	return id
}

func TestCancel_SyncSuccess(t *testing.T) {
	var got supplier.CancelCommand
	s := &cancelSupplier{code: "acme", cancel: func(ctx context.Context, cmd supplier.CancelCommand) (supplier.CancelResponse, error) {
		got = cmd
		return succeed(ctx, cmd)
	}}
	e := newEnv(t, s)
	id := e.bookingID(t, "acme", "R1")

	res, err := e.svc.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
	require.NotNil(t, res.Refund)
	assert.Equal(t, 45.0, res.Refund.Amount)
	assert.Equal(t, "R1", got.ReservationID)
	assert.Equal(t, "CNF-R1", got.ConfirmationNumber)

	st, err := e.svc.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, st.Status)
}

func TestCancel_ExhaustsRetriesThenDeadLetters(t *testing.T) {
	s := &cancelSupplier{code: "acme", cancel: alwaysFail}
	e := newEnv(t, s)
	id := e.bookingID(t, "acme", "R1")
	ctx := context.Background()

	res, err := e.svc.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)

	for i := 1; i <= 3; i++ {
		assert.Equal(t, 1, e.worker.ProcessBatch(ctx))
		st, err := e.svc.Status(ctx, id)
		require.NoError(t, err)
		if i < 3 {
			assert.Equal(t, StatusPending, st.Status, "tick %d", i)
			assert.Equal(t, i, st.RetryCount)
		}
	}

	st, err := e.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, 3, st.RetryCount)
	assert.Contains(t, st.LastError, "supplier down")
	assert.EqualValues(t, 4, s.calls.Load())

	again, err := e.svc.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, again.Status)
	assert.Zero(t, e.worker.ProcessBatch(ctx))
	assert.EqualValues(t, 4, s.calls.Load())

	dl, ok, err := e.svc.DeadLetters.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ReasonExhausted, dl.Reason)
}

func TestCancel_QueuedReentryDoesNotCallSupplier(t *testing.T) {
	s := &cancelSupplier{code: "acme", cancel: alwaysFail}
	e := newEnv(t, s)
	id := e.bookingID(t, "acme", "R1")

	_, err := e.svc.Cancel(context.Background(), id)
	require.NoError(t, err)
	res, err := e.svc.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.EqualValues(t, 1, s.calls.Load())
}

func TestCancel_HangingSupplierIsAbandoned(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)
	s := &cancelSupplier{code: "acme", cancel: func(context.Context, supplier.CancelCommand) (supplier.CancelResponse, error) {
		<-unblock
		return supplier.CancelResponse{Status: supplier.CancelCancelled}, nil
	}}
	e := newEnv(t, s)

	start := time.Now()
	res, err := e.svc.Cancel(context.Background(), e.bookingID(t, "acme", "R1"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusPending, res.Status)
}

func TestCancel_RejectedIsDeadLetteredImmediately(t *testing.T) {
	s := &cancelSupplier{code: "acme", cancel: func(context.Context, supplier.CancelCommand) (supplier.CancelResponse, error) {
		return supplier.CancelResponse{}, resilience.ValidationError("UNKNOWN_RESERVATION", errors.New("no such reservation"))
	}}
	e := newEnv(t, s)

	res, err := e.svc.Cancel(context.Background(), e.bookingID(t, "acme", "R1"))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.EqualValues(t, 1, s.calls.Load())
	n, _ := e.queue.Len(context.Background())
	assert.Zero(t, n)
}

func TestCancel_RejectsBadInput(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Cancel(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	_, err = e.svc.Cancel(context.Background(), e.bookingID(t, "ghost", "R1"))
	assert.ErrorIs(t, err, supplier.ErrSupplierNotFound)
}

func TestWorker_ExpiredTaskIsDeadLettered(t *testing.T) {
	s := &cancelSupplier{code: "acme", cancel: alwaysFail}
	e := newEnv(t, s)
	id := e.bookingID(t, "acme", "R1")
	base := time.Now()
	e.svc.now = func() time.Time { return base }

	_, err := e.svc.Cancel(context.Background(), id)
	require.NoError(t, err)

	e.svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	e.worker.ProcessBatch(context.Background())

	dl, ok, err := e.svc.DeadLetters.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ReasonExpired, dl.Reason)
	assert.EqualValues(t, 1, s.calls.Load())
}

func TestWorker_MissingSupplierIsDeadLettered(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.queue.Enqueue(ctx, Task{BookingID: "b-1", SupplierCode: "gone", ReservationID: "R1", CreatedAt: time.Now()}))

	e.worker.ProcessBatch(ctx)

	st, err := e.svc.Status(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	dl, _, _ := e.svc.DeadLetters.Get(ctx, "b-1")
	assert.Equal(t, ReasonSupplierNotFound, dl.Reason)
}

func TestWorker_BatchContinuesAfterFailure(t *testing.T) {
	panicky := &cancelSupplier{code: "panicky", cancel: func(context.Context, supplier.CancelCommand) (supplier.CancelResponse, error) {
		panic("boom")
	}}
	good := &cancelSupplier{code: "good", cancel: succeed}
	e := newEnv(t, panicky, good)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, e.queue.Enqueue(ctx, Task{BookingID: "b-1", SupplierCode: "panicky", CreatedAt: now}))
	require.NoError(t, e.queue.Enqueue(ctx, Task{BookingID: "b-2", SupplierCode: "good", CreatedAt: now}))

	assert.Equal(t, 2, e.worker.ProcessBatch(ctx))

	st, _ := e.svc.Status(ctx, "b-1")
	assert.Equal(t, StatusPending, st.Status)
	assert.Equal(t, 1, st.RetryCount)
	st, _ = e.svc.Status(ctx, "b-2")
	assert.Equal(t, StatusUnknown, st.Status)
	assert.EqualValues(t, 1, good.calls.Load())
}

func TestWorker_StartRunsBatches(t *testing.T) {
	s := &cancelSupplier{code: "acme", cancel: succeed}
	e := newEnv(t, s)
	ctx := context.Background()
	require.NoError(t, e.queue.Enqueue(ctx, Task{BookingID: "b-1", SupplierCode: "acme", CreatedAt: time.Now()}))

	w := NewWorker(e.svc, 20*time.Millisecond)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool { return s.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok, _ := e.queue.Lookup(ctx, "b-1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCancel_FullPoolQueuesForRetry(t *testing.T) {
	s := &cancelSupplier{code: "acme", cancel: succeed}
	e := newEnv(t, s)
	e.svc.Bulkhead = resilience.NewBulkhead(1, 5*time.Millisecond)
	release, err := e.svc.Bulkhead.Acquire(context.Background())
	require.NoError(t, err)
	id := e.bookingID(t, "acme", "R1")
	ctx := context.Background()

	res, err := e.svc.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.Zero(t, s.calls.Load())
	n, _ := e.queue.Len(ctx)
	assert.Equal(t, 1, n)

	release()
	assert.Equal(t, 1, e.worker.ProcessBatch(ctx))
	st, err := e.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, st.Status)
	assert.EqualValues(t, 1, s.calls.Load())
}

// flakyQueue fails the first n requeues.
type flakyQueue struct {
	*MemoryQueue
	failures atomic.Int32
}

func (q *flakyQueue) Requeue(ctx context.Context, t Task) error {
	if q.failures.Add(-1) >= 0 {
		return errors.New("redis: connection reset")
	}
	return q.MemoryQueue.Requeue(ctx, t)
}

func TestWorker_UnsettledTaskIsReturnedToQueue(t *testing.T) {
	s := &cancelSupplier{code: "acme", cancel: alwaysFail}
	e := newEnv(t, s)
	q := &flakyQueue{MemoryQueue: e.queue}
	q.failures.Store(1)
	e.svc.Queue = q
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Task{BookingID: "b-1", SupplierCode: "acme", ReservationID: "R1", CreatedAt: time.Now()}))

	assert.Equal(t, 1, e.worker.ProcessBatch(ctx))
	n, _ := q.Len(ctx)
	assert.Equal(t, 1, n, "task must not be stranded in flight")
	st, err := e.svc.Status(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st.Status)

	assert.Equal(t, 1, e.worker.ProcessBatch(ctx))
	st, _ = e.svc.Status(ctx, "b-1")
	assert.Equal(t, 1, st.RetryCount)
	assert.EqualValues(t, 2, s.calls.Load())
}
