// Package booking turns an offer token into exactly one supplier booking per
// idempotency key and exposes reservation changes where suppliers allow them.
package booking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/models"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/obs"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/resilience"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/store"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/supplier"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/tenant"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/token"
)

var (
	ErrSupplierNotAllowed = errors.New("supplier not allowed for tenant")
	ErrInvalidRequest     = errors.New("invalid booking request")
	ErrKeyReused          = fmt.Errorf("%w: idempotency key already used for a different request", ErrInvalidRequest)
)

const idempotencyKeyPrefix = "idem:"

type Settings struct {
	Timeout        time.Duration
	IdempotencyTTL time.Duration
}

type Deps struct {
	Registry *supplier.Registry
	Codec    *token.Codec
	Breakers resilience.BreakerRegistry
	Bulkhead *resilience.Bulkhead // shared with search, bounds all outbound supplier calls
	Records  store.Store
	Metrics  *obs.Metrics
	Logger   *slog.Logger
}

type Orchestrator struct {
	Deps
	cfg      Settings
	inflight *inflight
}

func NewOrchestrator(d Deps, cfg Settings) *Orchestrator {
	return &Orchestrator{Deps: d, cfg: cfg, inflight: newInflight()}
}

// record is what is stored under an idempotency key. Fingerprint ties the key to
// the request that produced the result.
type record struct {
	Fingerprint string `json:"fingerprint"`
	Result      Result `json:"result"`
}

// DeriveKey builds the idempotency key used when the caller sends none.
func DeriveKey(offerToken, email string) string {
	sum := sha256.Sum256([]byte(offerToken + "|" + strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// Book reserves the offer behind req.OfferToken. A terminal result stored under
// the idempotency key is returned as is, and concurrent calls with the same key
// share one supplier call.
func (o *Orchestrator) Book(ctx context.Context, t tenant.Tenant, req models.BookingRequest, key string) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	fp := DeriveKey(req.OfferToken, req.Passenger.Email)
	if key = strings.TrimSpace(key); key == "" {
		key = fp
	}

	if res, ok, err := o.lookup(ctx, key, fp); err != nil || ok {
		return res, err
	}

	res, shared, err := o.inflight.do(ctx, key, fp, func(ctx context.Context) (Result, error) {
		// a call for the same key may have finished between lookup and here
		if res, ok, err := o.lookup(ctx, key, fp); err != nil || ok {
			return res, err
		}
		return o.book(ctx, t, req, key, fp)
	})
	if shared {
		o.Logger.Info("booking collapsed onto in-flight call", "idempotency_key", key)
	}
	return res, err
}

// lookup returns the stored result for key. A record written for a different
// request fails with ErrKeyReused.
func (o *Orchestrator) lookup(ctx context.Context, key, fingerprint string) (Result, bool, error) {
	var rec record
	err := store.GetJSON(ctx, o.Records, idempotencyKeyPrefix+key, &rec)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			o.Logger.Error("idempotency lookup failed", "idempotency_key", key, "error", err)
		}
		return Result{}, false, nil
	}
	if rec.Fingerprint != fingerprint {
		return Result{}, false, ErrKeyReused
	}
	o.Metrics.IncIdempotencyHits()
	rec.Result.Replayed = true
	return rec.Result, true, nil
}

func (o *Orchestrator) book(ctx context.Context, t tenant.Tenant, req models.BookingRequest, key, fingerprint string) (Result, error) {
	ref, err := o.Codec.DecodeOffer(req.OfferToken)
	if err != nil {
		return Result{}, err
	}
	s, err := o.Registry.Get(ref.SupplierCode)
	if err != nil {
		return Result{}, err
	}
	if !t.Allows(ref.SupplierCode) {
		return Result{}, fmt.Errorf("%w: %s", ErrSupplierNotAllowed, ref.SupplierCode)
	}

	logger := o.Logger.With("supplier", ref.SupplierCode, "idempotency_key", key, "tenant", t.ID)
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	cmd := supplier.BookCommand{
		SearchID:  ref.SearchID,
		ResultID:  ref.ResultID,
		Passenger: req.Passenger,
		Flight:    req.FlightNumber,
		Notes:     req.Notes,
	}
	var resp supplier.BookResponse
	start := time.Now()
	err = o.Breakers.Execute(ref.SupplierCode, func() error {
		return o.Bulkhead.Do(ctx, func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("supplier panicked: %v", r)
				}
			}()
			resp, err = s.Book(ctx, cmd, o.cfg.Timeout)
			return err
		})
	})
	o.Metrics.ObserveSupplierLatency(ref.SupplierCode, "book", time.Since(start).Seconds())

	res := Result{SupplierCode: ref.SupplierCode, IdempotencyKey: key}
	cacheable := true
	switch {
	case err == nil:
		o.fromResponse(&res, resp)
	case resilience.Classify(err) == resilience.KindTimeout || errors.Is(err, context.DeadlineExceeded):
		res.Status = StatusPending
		res.ErrorCode = "SUPPLIER_TIMEOUT"
		res.ErrorMessage = "supplier did not answer in time; retry to check the booking"
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrBusy), errors.Is(err, context.Canceled):
		// rejected before reaching the supplier, a retry may succeed
		cacheable = false
		res.Status = StatusFailed
		res.ErrorCode = "SUPPLIER_UNAVAILABLE"
		res.ErrorMessage = err.Error()
	default:
		res.Status = StatusFailed
		res.ErrorCode = faultCode(err)
		res.ErrorMessage = err.Error()
	}

	if res.Status == StatusConfirmed {
		conf := res.ConfirmationNumber
		res.BookingID, err = o.Codec.EncodeBooking(token.BookingRef{
			SupplierCode:       ref.SupplierCode,
			ReservationID:      res.ReservationID,
			ConfirmationNumber: &conf,
		})
		if err != nil {
			return Result{}, fmt.Errorf("issue booking token: %w", err)
		}
	}

	o.Metrics.IncBookings(ref.SupplierCode, string(res.Status))
	logger.Info("booking finished", "status", res.Status, "reservation_id", res.ReservationID, "error_code", res.ErrorCode)

	if cacheable && res.Status.Terminal() {
		rec := record{Fingerprint: fingerprint, Result: res}
		if err := store.PutJSON(context.WithoutCancel(ctx), o.Records, idempotencyKeyPrefix+key, rec, o.cfg.IdempotencyTTL); err != nil {
			logger.Error("failed to store idempotency record", "error", err)
		}
	}
	return res, nil
}

func (o *Orchestrator) fromResponse(res *Result, resp supplier.BookResponse) {
	res.ReservationID = resp.ReservationID
	res.ConfirmationNumber = resp.ConfirmationNumber
	res.Instructions = resp.Instructions
	res.ErrorCode = resp.ErrorCode
	res.ErrorMessage = resp.ErrorMessage
	if resp.Price.Amount > 0 {
		p := resp.Price
		res.Price = &p
	}
	switch resp.Status {
	case supplier.BookConfirmed:
		res.Status = StatusConfirmed
	case supplier.BookPending:
		res.Status = StatusPending
	case supplier.BookPriceChanged:
		res.Status = StatusPriceChanged
	default:
		res.Status = StatusFailed
	}
}

func faultCode(err error) string {
	var f *resilience.Fault
	if errors.As(err, &f) && f.Code != "" {
		return f.Code
	}
	return "SUPPLIER_ERROR"
}

// Amend changes an existing reservation when the supplier supports it natively.
// Otherwise the caller is told to cancel and book again.
func (o *Orchestrator) Amend(ctx context.Context, t tenant.Tenant, bookingID string, changes models.AmendRequest) (AmendResult, error) {
	ref, err := o.Codec.DecodeBooking(bookingID)
	if err != nil {
		return AmendResult{}, err
	}
	s, err := o.Registry.Get(ref.SupplierCode)
	if err != nil {
		return AmendResult{}, err
	}
	if !t.Allows(ref.SupplierCode) {
		return AmendResult{}, fmt.Errorf("%w: %s", ErrSupplierNotAllowed, ref.SupplierCode)
	}

	res := AmendResult{SupplierCode: ref.SupplierCode}
	if !s.Capabilities().Amend {
		res.Status = AmendUnsupported
		res.Message = "supplier does not support changes; cancel the booking and book again"
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	cmd := supplier.AmendCommand{ReservationID: ref.ReservationID, Changes: changes}
	if ref.ConfirmationNumber != nil {
		cmd.ConfirmationNumber = *ref.ConfirmationNumber
	}
	var resp supplier.AmendResponse
	err = o.Breakers.Execute(ref.SupplierCode, func() error {
		return o.Bulkhead.Do(ctx, func() (err error) {
			resp, err = s.Amend(ctx, cmd)
			return err
		})
	})
	switch {
	case errors.Is(err, supplier.ErrNotSupported):
		res.Status = AmendUnsupported
		res.Message = "supplier does not support changes; cancel the booking and book again"
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrBusy):
		res.Status = AmendFailed
		res.ErrorCode = "SUPPLIER_UNAVAILABLE"
		res.Message = err.Error()
	case err != nil:
		res.Status = AmendFailed
		res.ErrorCode = faultCode(err)
		res.Message = err.Error()
	case resp.Applied:
		res.Status = AmendApplied
		res.Price = resp.Price
	default:
		res.Status = AmendFailed
		res.ErrorCode = resp.ErrorCode
		res.Message = resp.ErrorMessage
	}
	o.Logger.Info("amend finished", "supplier", ref.SupplierCode, "reservation_id", ref.ReservationID, "status", res.Status)
	return res, nil
}
