package cancellation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/resilience"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/supplier"
)

// Worker retries queued cancellations on a fixed interval.
type Worker struct {
	svc       *Service
	interval  time.Duration
	scheduler gocron.Scheduler
}

func NewWorker(svc *Service, interval time.Duration) *Worker {
	return &Worker{svc: svc, interval: interval}
}

// Start schedules ProcessBatch every interval. A tick that is still running when
// the next one is due delays it instead of overlapping.
func (w *Worker) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() { w.ProcessBatch(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("cancellation-worker"),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule cancellation worker: %w", err)
	}
	s.Start()
	w.scheduler = s
	w.svc.Logger.Info("cancellation worker started", "interval", w.interval.String())
	return nil
}

func (w *Worker) Stop() error {
	if w.scheduler == nil {
		return nil
	}
	return w.scheduler.Shutdown()
}

// ProcessBatch drains the queue once and handles every task. It returns the number
// of tasks taken from the queue.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	s := w.svc
	tasks, err := s.Queue.Drain(ctx)
	if err != nil {
		s.Logger.Error("drain cancellation queue", "error", err)
		return 0
	}
	for i, t := range tasks {
		if ctx.Err() != nil {
			w.putBack(tasks[i:])
			break
		}
		if err := w.process(ctx, t); err != nil {
			s.Logger.Error("cancellation task not settled", "booking_id", t.BookingID, "error", err)
			// a task left in flight would never be drained again
			if err := s.Queue.Requeue(context.WithoutCancel(ctx), t); err != nil {
				s.Logger.Error("return unsettled cancellation task", "booking_id", t.BookingID, "error", err)
			}
		}
	}
	s.reportDepth(ctx)
	if len(tasks) > 0 {
		s.Logger.Info("cancellation batch processed", "tasks", len(tasks))
	}
	return len(tasks)
}

// putBack returns untouched tasks to the queue when the worker is stopping.
func (w *Worker) putBack(tasks []Task) {
	ctx := context.Background()
	for _, t := range tasks {
		if err := w.svc.Queue.Requeue(ctx, t); err != nil {
			w.svc.Logger.Error("requeue cancellation task", "booking_id", t.BookingID, "error", err)
		}
	}
}

func (w *Worker) process(ctx context.Context, t Task) (err error) {
	s := w.svc
	unlock := s.locks.Lock(t.BookingID)
	defer unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing task: %v", r)
		}
	}()

	if s.now().Sub(t.CreatedAt) > s.cfg.TaskExpiry {
		return s.deadLetter(ctx, t, ReasonExpired)
	}
	sup, err := s.Registry.Get(t.SupplierCode)
	if errors.Is(err, supplier.ErrSupplierNotFound) {
		t.LastError = err.Error()
		return s.deadLetter(ctx, t, ReasonSupplierNotFound)
	}
	if err != nil {
		return err
	}

	_, err = s.attempt(ctx, sup, t)
	if err == nil {
		s.Metrics.IncCancellations("worker", "cancelled")
		s.Logger.Info("queued cancellation succeeded", "supplier", t.SupplierCode, "reservation_id", t.ReservationID, "retry_count", t.RetryCount)
		return s.Queue.Ack(ctx, t.BookingID)
	}

	t.LastError = err.Error()
	if !resilience.IsRetryable(err) {
		s.Metrics.IncCancellations("worker", "rejected")
		return s.deadLetter(ctx, t, ReasonRejected)
	}
	t.RetryCount++
	if t.RetryCount < s.cfg.MaxRetries {
		s.Metrics.IncCancellations("worker", "retry")
		return s.Queue.Requeue(ctx, t)
	}
	s.Metrics.IncCancellations("worker", "exhausted")
	return s.deadLetter(ctx, t, ReasonExhausted)
}
