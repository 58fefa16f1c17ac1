package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

var ErrCircuitOpen = errors.New("circuit open")

// BreakerRegistry tracks one circuit per supplier code. Implementations are shared
// by every request in the process.
type BreakerRegistry interface {
	// Execute runs fn through the supplier's circuit. It returns ErrCircuitOpen
	// without calling fn when the circuit rejects the call.
	Execute(supplier string, fn func() error) error
	// Open reports whether calls to supplier are currently rejected.
	Open(supplier string) bool
}

type BreakerSettings struct {
	FailureThreshold uint32        // consecutive failures that trip the circuit
	OpenTimeout      time.Duration // time spent open before a half-open trial call
	HalfOpenRequests uint32
}

// GoBreakerRegistry is the in-memory BreakerRegistry.
type GoBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings BreakerSettings
	logger   *slog.Logger
	onChange func(supplier string, open bool)
}

func NewBreakerRegistry(s BreakerSettings, logger *slog.Logger, onChange func(supplier string, open bool)) *GoBreakerRegistry {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 1
	}
	return &GoBreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: s,
		logger:   logger,
		onChange: onChange,
	}
}

func (r *GoBreakerRegistry) get(supplier string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[supplier]; ok {
		return cb
	}
	threshold := r.settings.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        supplier,
		MaxRequests: r.settings.HalfOpenRequests,
		Timeout:     r.settings.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit state changed", "supplier", name, "from", from.String(), "to", to.String())
			if r.onChange != nil {
				r.onChange(name, to == gobreaker.StateOpen)
			}
		},
	})
	r.breakers[supplier] = cb
	return cb
}

func (r *GoBreakerRegistry) Execute(supplier string, fn func() error) error {
	_, err := r.get(supplier).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (r *GoBreakerRegistry) Open(supplier string) bool {
	return r.get(supplier).State() == gobreaker.StateOpen
}

// Local admission failures and caller cancellation say nothing about supplier
// health.
func countsAsHealthy(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrBusy) || errors.Is(err, ErrRateLimited) || errors.Is(err, context.Canceled) {
		return true
	}
	return Classify(err) == KindValidation
}
