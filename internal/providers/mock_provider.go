package providers

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/models"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/resilience"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/supplier"
)

var errSimulated = errors.New("supplier error (simulated)")

// MockOptions configures a simulated supplier.
type MockOptions struct {
	AvgLatency float64 // scales the sampled latency, 0 means ~50ms
	FailRate   float64
	// PollRounds > 0 makes the supplier deliver its offers over that many Poll calls.
	PollRounds int
	Amend      bool
	OfferTTL   time.Duration
}

// MockSupplier simulates a transfer backend with variable latency and failures.
type MockSupplier struct {
	code string
	opts MockOptions

	mu        sync.Mutex
	rng       *rand.Rand
	sessions  map[string]*mockSession
	cancelled map[string]bool
}

type mockSession struct {
	criteria models.SearchCriteria
	round    int
}

func NewMockSupplier(code string, opts MockOptions, seedOffset int64) *MockSupplier {
	if opts.OfferTTL <= 0 {
		opts.OfferTTL = 30 * time.Minute
	}
	seed := time.Now().UnixNano() + seedOffset
	return &MockSupplier{
		code:      code,
		opts:      opts,
		rng:       rand.New(rand.NewSource(seed)),
		sessions:  make(map[string]*mockSession),
		cancelled: make(map[string]bool),
	}
}

func (m *MockSupplier) Code() string { return m.code }

func (m *MockSupplier) Capabilities() supplier.Capabilities {
	return supplier.Capabilities{IncrementalPoll: m.opts.PollRounds > 0, Amend: m.opts.Amend}
}

func (m *MockSupplier) Search(ctx context.Context, cmd supplier.SearchCommand, timeout time.Duration) (supplier.SearchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := m.simulate(ctx); err != nil {
		return supplier.SearchResponse{}, err
	}

	if m.opts.PollRounds == 0 {
		return supplier.SearchResponse{Offers: m.offers(cmd.Criteria, 3), Complete: true}, nil
	}
	sub := m.code + "-" + uuid.NewString()
	m.mu.Lock()
	m.sessions[sub] = &mockSession{criteria: cmd.Criteria}
	m.mu.Unlock()
	return supplier.SearchResponse{Offers: m.offers(cmd.Criteria, 1), SubSearchID: sub, Complete: false}, nil
}

// Poll returns the cumulative offer set; each call reveals one more offer until
// PollRounds is reached.
func (m *MockSupplier) Poll(ctx context.Context, subSearchID string) (supplier.SearchResponse, error) {
	if m.opts.PollRounds == 0 {
		return supplier.SearchResponse{}, supplier.ErrNotSupported
	}
	if err := m.simulate(ctx); err != nil {
		return supplier.SearchResponse{}, err
	}
	m.mu.Lock()
	s, ok := m.sessions[subSearchID]
	if !ok {
		m.mu.Unlock()
		return supplier.SearchResponse{}, resilience.ValidationError("UNKNOWN_SEARCH", fmt.Errorf("sub-search %s not found", subSearchID))
	}
	if s.round < m.opts.PollRounds {
		s.round++
	}
	round, criteria := s.round, s.criteria
	m.mu.Unlock()

	return supplier.SearchResponse{
		Offers:      m.offers(criteria, 1+round),
		SubSearchID: subSearchID,
		Complete:    round >= m.opts.PollRounds,
	}, nil
}

func (m *MockSupplier) Book(ctx context.Context, cmd supplier.BookCommand, timeout time.Duration) (supplier.BookResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := m.simulate(ctx); err != nil {
		return supplier.BookResponse{}, err
	}
	return supplier.BookResponse{
		Status:             supplier.BookConfirmed,
		ReservationID:      uuid.NewString(),
		ConfirmationNumber: fmt.Sprintf("%s-%06d", m.code, m.intn(1000000)),
		Instructions:       "Driver waits at arrivals with a name sign.",
	}, nil
}

func (m *MockSupplier) Cancel(ctx context.Context, cmd supplier.CancelCommand) (supplier.CancelResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return supplier.CancelResponse{}, err
	}
	m.mu.Lock()
	already := m.cancelled[cmd.ReservationID]
	m.cancelled[cmd.ReservationID] = true
	m.mu.Unlock()
	return supplier.CancelResponse{Status: supplier.CancelCancelled, AlreadyCancelled: already}, nil
}

func (m *MockSupplier) Amend(ctx context.Context, cmd supplier.AmendCommand) (supplier.AmendResponse, error) {
	if !m.opts.Amend {
		return supplier.AmendResponse{}, supplier.ErrNotSupported
	}
	if err := m.simulate(ctx); err != nil {
		return supplier.AmendResponse{}, err
	}
	return supplier.AmendResponse{Applied: true}, nil
}

// simulate sleeps for a sampled latency (cancelable) and then fails at FailRate.
func (m *MockSupplier) simulate(ctx context.Context) error {
	m.mu.Lock()
	latency := SampleLatencyFromRng(m.rng, m.opts.AvgLatency)
	fail := ShouldFailFromRng(m.rng, m.opts.FailRate)
	m.mu.Unlock()

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return resilience.Timeout(ctx.Err())
	}
	if fail {
		return resilience.ServerError(503, "UNAVAILABLE", errSimulated)
	}
	return nil
}

func (m *MockSupplier) intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Intn(n)
}

var catalog = []struct {
	vehicle  models.Vehicle
	provider models.Provider
	base     float64
}{
	{models.Vehicle{Type: "sedan", Class: "standard", Model: "Toyota Corolla", MaxPassengers: 3, MaxBags: 2}, models.Provider{Name: "City Cars", Rating: 4.2}, 45},
	{models.Vehicle{Type: "van", Class: "standard", Model: "Mercedes Vito", MaxPassengers: 7, MaxBags: 7}, models.Provider{Name: "Shuttle Pro", Rating: 4.5}, 70},
	{models.Vehicle{Type: "sedan", Class: "business", Model: "Mercedes E-Class", MaxPassengers: 3, MaxBags: 3}, models.Provider{Name: "Executive Line", Rating: 4.8}, 95},
	{models.Vehicle{Type: "minibus", Class: "standard", Model: "Ford Transit", MaxPassengers: 16, MaxBags: 16}, models.Provider{Name: "Group Transfers", Rating: 4.0}, 140},
}

func (m *MockSupplier) offers(c models.SearchCriteria, n int) []models.Offer {
	if n > len(catalog) {
		n = len(catalog)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Offer, 0, n)
	expires := time.Now().Add(m.opts.OfferTTL)
	for i := 0; i < n; i++ {
		item := catalog[i]
		out = append(out, models.Offer{
			ID:              fmt.Sprintf("%s-%d", m.code, i+1),
			Vehicle:         item.vehicle,
			Provider:        item.provider,
			Price:           models.Price{Amount: item.base + float64(m.rng.Intn(20)), Currency: c.Currency},
			Cancellation:    models.Cancellation{Refundable: i%2 == 0},
			DurationMinutes: 35 + m.rng.Intn(20),
			DistanceKm:      25 + float64(m.rng.Intn(15)),
			Amenities:       []string{"meet_and_greet"},
			ExpiresAt:       expires,
		})
	}
	return out
}

func SampleLatencyFromRng(rng *rand.Rand, avg float64) time.Duration {
	ms := float64(50) + rng.ExpFloat64()*avg*200.0
	return time.Duration(ms) * time.Millisecond
}

func ShouldFailFromRng(rng *rand.Rand, rate float64) bool {
	return rng.Float64() < rate
}
