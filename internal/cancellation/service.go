package cancellation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/keylock"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/models"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/obs"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/resilience"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/supplier"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/token"
)

type Status string

const (
	StatusCancelled Status = "CANCELLED"
	StatusPending   Status = "PENDING"
	StatusFailed    Status = "FAILED"
	StatusUnknown   Status = "UNKNOWN"
)

type Result struct {
	Status           Status        `json:"status"`
	Refund           *models.Price `json:"refund,omitempty"`
	AlreadyCancelled bool          `json:"already_cancelled,omitempty"`
	RetryCount       int           `json:"retry_count"`
	LastError        string        `json:"last_error,omitempty"`
}

type Settings struct {
	SyncTimeout time.Duration // bound of every single supplier attempt
	MaxRetries  int
	TaskExpiry  time.Duration
}

type Deps struct {
	Registry    *supplier.Registry
	Codec       *token.Codec
	Bulkhead    *resilience.Bulkhead // shared with search and booking
	Queue       Queue
	DeadLetters *DeadLetters
	Metrics     *obs.Metrics
	Logger      *slog.Logger
}

type Service struct {
	Deps
	cfg   Settings
	locks *keylock.Locker
	now   func() time.Time
}

func NewService(d Deps, cfg Settings) *Service {
	return &Service{Deps: d, cfg: cfg, locks: keylock.New(), now: time.Now}
}

// Cancel tries the supplier once within the sync timeout. A failed attempt is
// queued for the worker and reported as PENDING. Bookings already queued or
// dead-lettered are answered from there without calling the supplier.
func (s *Service) Cancel(ctx context.Context, bookingID string) (Result, error) {
	ref, err := s.Codec.DecodeBooking(bookingID)
	if err != nil {
		return Result{}, err
	}
	unlock := s.locks.Lock(bookingID)
	defer unlock()

	if res, found, err := s.lookup(ctx, bookingID); err != nil || found {
		return res, err
	}

	sup, err := s.Registry.Get(ref.SupplierCode)
	if err != nil {
		return Result{}, err
	}
	task := Task{
		BookingID:     bookingID,
		SupplierCode:  ref.SupplierCode,
		ReservationID: ref.ReservationID,
		CreatedAt:     s.now(),
	}
	if ref.ConfirmationNumber != nil {
		task.ConfirmationNumber = *ref.ConfirmationNumber
	}
	logger := s.Logger.With("supplier", task.SupplierCode, "reservation_id", task.ReservationID)

	resp, err := s.attempt(ctx, sup, task)
	if err == nil {
		s.Metrics.IncCancellations("sync", "cancelled")
		logger.Info("reservation cancelled", "already_cancelled", resp.AlreadyCancelled)
		return Result{Status: StatusCancelled, Refund: resp.Refund, AlreadyCancelled: resp.AlreadyCancelled}, nil
	}

	task.LastError = err.Error()
	bg := context.WithoutCancel(ctx)
	if !resilience.IsRetryable(err) {
		s.Metrics.IncCancellations("sync", "rejected")
		if err := s.deadLetter(bg, task, ReasonRejected); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusFailed, LastError: task.LastError}, nil
	}
	if err := s.Queue.Enqueue(bg, task); err != nil {
		return Result{}, fmt.Errorf("enqueue cancellation: %w", err)
	}
	s.Metrics.IncCancellations("sync", "queued")
	s.reportDepth(bg)
	logger.Warn("cancellation queued for retry", "error", err)
	return Result{Status: StatusPending, LastError: task.LastError}, nil
}

// Status reports where a cancellation stands: PENDING while queued, FAILED once
// dead-lettered, UNKNOWN otherwise.
func (s *Service) Status(ctx context.Context, bookingID string) (Result, error) {
	res, found, err := s.lookup(ctx, bookingID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Status: StatusUnknown}, nil
	}
	return res, nil
}

func (s *Service) lookup(ctx context.Context, bookingID string) (Result, bool, error) {
	dl, ok, err := s.DeadLetters.Get(ctx, bookingID)
	if err != nil {
		return Result{}, false, fmt.Errorf("read dead letters: %w", err)
	}
	if ok {
		return Result{Status: StatusFailed, RetryCount: dl.Task.RetryCount, LastError: dl.Task.LastError}, true, nil
	}
	t, ok, err := s.Queue.Lookup(ctx, bookingID)
	if err != nil {
		return Result{}, false, fmt.Errorf("read cancellation queue: %w", err)
	}
	if ok {
		return Result{Status: StatusPending, RetryCount: t.RetryCount, LastError: t.LastError}, true, nil
	}
	return Result{}, false, nil
}

// attempt runs one supplier cancel in its own goroutine and gives up on it after
// the sync timeout. The caller going away does not cut the attempt short.
func (s *Service) attempt(ctx context.Context, sup supplier.Supplier, t Task) (supplier.CancelResponse, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SyncTimeout)
	defer cancel()

	type answer struct {
		resp supplier.CancelResponse
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- answer{err: fmt.Errorf("supplier panicked: %v", r)}
			}
		}()
		var resp supplier.CancelResponse
		err := s.Bulkhead.Do(ctx, func() (err error) {
			resp, err = sup.Cancel(ctx, supplier.CancelCommand{
				ReservationID:      t.ReservationID,
				ConfirmationNumber: t.ConfirmationNumber,
			})
			return err
		})
		if err == nil && resp.Status == supplier.CancelFailed {
			msg := resp.ErrorMessage
			if msg == "" {
				msg = "supplier refused cancellation"
			}
			err = resilience.ServerError(0, resp.ErrorCode, errors.New(msg))
		}
		ch <- answer{resp: resp, err: err}
	}()

	select {
	case a := <-ch:
		return a.resp, a.err
	case <-ctx.Done():
		return supplier.CancelResponse{}, resilience.Timeout(ctx.Err())
	}
}

// deadLetter stores the task before removing it from the queue so it is always
// visible in one of them.
func (s *Service) deadLetter(ctx context.Context, t Task, reason string) error {
	dl := DeadLetter{Task: t, Reason: reason, DeadLetteredAt: s.now()}
	if err := s.DeadLetters.Put(ctx, dl); err != nil {
		return fmt.Errorf("store dead letter: %w", err)
	}
	if err := s.Queue.Ack(ctx, t.BookingID); err != nil {
		return fmt.Errorf("ack dead-lettered task: %w", err)
	}
	s.Metrics.IncDeadLetters(reason)
	s.Logger.Error("cancellation dead-lettered",
		"supplier", t.SupplierCode,
		"reservation_id", t.ReservationID,
		"reason", reason,
		"retry_count", t.RetryCount,
		"last_error", t.LastError,
	)
	return nil
}

func (s *Service) reportDepth(ctx context.Context) {
	if n, err := s.Queue.Len(ctx); err == nil {
		s.Metrics.SetCancelQueueDepth(n)
	}
}
