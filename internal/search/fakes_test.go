package search

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/models"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/obs"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/resilience"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/store"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/supplier"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/token"
)

// stubSupplier answers with whatever its funcs return.
type stubSupplier struct {
	code      string
	caps      supplier.Capabilities
	search    func(ctx context.Context) (supplier.SearchResponse, error)
	poll      func(ctx context.Context, sub string) (supplier.SearchResponse, error)
	searches  atomic.Int32
	pollCalls atomic.Int32
}

func (s *stubSupplier) Code() string                        { return s.code }
func (s *stubSupplier) Capabilities() supplier.Capabilities { return s.caps }

func (s *stubSupplier) Search(ctx context.Context, _ supplier.SearchCommand, _ time.Duration) (supplier.SearchResponse, error) {
	s.searches.Add(1)
	return s.search(ctx)
}

func (s *stubSupplier) Poll(ctx context.Context, sub string) (supplier.SearchResponse, error) {
	s.pollCalls.Add(1)
	return s.poll(ctx, sub)
}

func (s *stubSupplier) Book(context.Context, supplier.BookCommand, time.Duration) (supplier.BookResponse, error) {
	return supplier.BookResponse{}, supplier.ErrNotSupported
}

func (s *stubSupplier) Cancel(context.Context, supplier.CancelCommand) (supplier.CancelResponse, error) {
	return supplier.CancelResponse{}, supplier.ErrNotSupported
}

func (s *stubSupplier) Amend(context.Context, supplier.AmendCommand) (supplier.AmendResponse, error) {
	return supplier.AmendResponse{}, supplier.ErrNotSupported
}

func offer(id string, price float64) models.Offer {
	return models.Offer{
		ID:      id,
		Price:   models.Price{Amount: price, Currency: "EUR"},
		Vehicle: models.Vehicle{Type: "sedan", MaxPassengers: 3},
	}
}

func offers(n int) []models.Offer {
	out := make([]models.Offer, n)
	for i := range out {
		out[i] = offer(string(rune('a'+i)), float64(10*(i+1)))
	}
	return out
}

func fixed(list ...models.Offer) func(context.Context) (supplier.SearchResponse, error) {
	return func(context.Context) (supplier.SearchResponse, error) {
		return supplier.SearchResponse{Offers: list, Complete: true}, nil
	}
}

type harness struct {
	orch  *Orchestrator
	kv    *store.Memory
	codec *token.Codec
}

type option func(*Deps, *Settings)

func withSearchLimit(n int) option {
	return func(d *Deps, _ *Settings) { d.SearchLimits = resilience.NewWindowLimiter(n, time.Minute) }
}

func withPollLimit(n int) option {
	return func(d *Deps, _ *Settings) { d.PollLimits = resilience.NewWindowLimiter(n, time.Minute) }
}

func withBreakerThreshold(n uint32) option {
	return func(d *Deps, _ *Settings) {
		d.Breakers = resilience.NewBreakerRegistry(resilience.BreakerSettings{FailureThreshold: n, OpenTimeout: time.Minute}, d.Logger, nil)
	}
}

func withBulkhead(size int, wait time.Duration) option {
	return func(d *Deps, _ *Settings) { d.Bulkhead = resilience.NewBulkhead(size, wait) }
}

func withFallback() option {
	return func(_ *Deps, s *Settings) { s.CircuitOpenFallback = true }
}

func newHarness(t *testing.T, suppliers []supplier.Supplier, opts ...option) *harness {
	t.Helper()
	codec, err := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := store.NewMemory(0)
	d := Deps{
		Registry:     supplier.NewRegistry(suppliers...),
		Codec:        codec,
		SearchLimits: resilience.NewWindowLimiter(0, time.Minute),
		PollLimits:   resilience.NewWindowLimiter(0, time.Minute),
		Bulkhead:     resilience.NewBulkhead(16, 50*time.Millisecond),
		Sessions:     NewSessionStore(kv, 10*time.Minute),
		Metrics:      obs.NewNop(),
		Logger:       logger,
	}
	d.Breakers = resilience.NewBreakerRegistry(resilience.BreakerSettings{FailureThreshold: 5, OpenTimeout: time.Minute}, logger, nil)
	cfg := Settings{
		Timeout:   200 * time.Millisecond,
		OfferTTL:  15 * time.Minute,
		PollRetry: resilience.RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
	for _, o := range opts {
		o(&d, &cfg)
	}
	return &harness{orch: NewOrchestrator(d, cfg), kv: kv, codec: codec}
}
