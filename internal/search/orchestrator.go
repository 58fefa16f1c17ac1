package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/keylock"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/models"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/obs"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/resilience"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/supplier"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/tenant"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/token"
)

type Settings struct {
	Timeout             time.Duration // global search deadline, also bounds one poll round
	OfferTTL            time.Duration
	CircuitOpenFallback bool // answer an open circuit with an empty SUCCESS slot
	PollRetry           resilience.RetryPolicy
}

type Deps struct {
	Registry     *supplier.Registry
	Codec        *token.Codec
	SearchLimits resilience.RateLimiter // keyed by supplier code
	PollLimits   resilience.RateLimiter // keyed by search id
	Breakers     resilience.BreakerRegistry
	Bulkhead     *resilience.Bulkhead
	Sessions     *SessionStore
	Metrics      *obs.Metrics
	Logger       *slog.Logger
}

// Orchestrator fans searches out to suppliers and resumes incomplete ones.
type Orchestrator struct {
	Deps
	cfg   Settings
	locks *keylock.Locker
	now   func() time.Time
	newID func() string
}

func NewOrchestrator(d Deps, cfg Settings) *Orchestrator {
	return &Orchestrator{
		Deps:  d,
		cfg:   cfg,
		locks: keylock.New(),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// outcome is one supplier's contribution to a search or poll round.
type outcome struct {
	code        string
	status      Status
	offers      []models.Offer
	subSearchID string
	err         error
}

// Search queries every eligible supplier in parallel and waits for them until the
// global deadline. Supplier failures are recorded per supplier and never fail
// the search.
func (o *Orchestrator) Search(ctx context.Context, t tenant.Tenant, c models.SearchCriteria) (Result, error) {
	start := o.now()
	o.Metrics.IncSearches()
	searchID := o.newID()
	suppliers := o.Registry.Searchable(t.Allows)
	logger := o.Logger.With("search_id", searchID, "tenant", t.ID)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	sess := newSession(searchID, t.ID, c, start)
	for _, s := range suppliers {
		sess.Statuses[s.Code()] = StatusTimeout
	}

	// buffered so late suppliers never block after the deadline
	resCh := make(chan outcome, len(suppliers))
	for _, s := range suppliers {
		go func(s supplier.Supplier) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("supplier panic recovered", "supplier", s.Code(), "panic", r)
					resCh <- outcome{code: s.Code(), status: StatusError, err: fmt.Errorf("panic: %v", r)}
				}
			}()
			resCh <- o.searchOne(ctx, s, supplier.SearchCommand{SearchID: searchID, Criteria: c}, deadline)
		}(s)
	}

	received := 0
collect:
	for received < len(suppliers) {
		select {
		case out := <-resCh:
			received++
			o.merge(sess, out, searchID)
		case <-ctx.Done():
			break collect
		}
	}

	for code, st := range sess.Statuses {
		o.Metrics.IncSupplierOutcome(code, "search", string(st))
		if st == StatusTimeout && sess.SubSearchIDs[code] == "" {
			logger.Warn("supplier missed search deadline", "supplier", code)
		}
	}
	sess.recompute()
	sess.UpdatedAt = o.now()

	if sess.incomplete() {
		if err := o.Sessions.Save(context.WithoutCancel(ctx), sess, o.now()); err != nil {
			// a lost session only degrades later polls
			logger.Error("failed to persist search session", "error", err)
		}
	}

	res := o.view(sess, models.Query{}, false)
	res.DurationMs = o.now().Sub(start).Milliseconds()
	logger.Info("search completed",
		"suppliers", len(suppliers),
		"offers", res.Total,
		"incomplete", res.Incomplete,
		"duration_ms", res.DurationMs,
	)
	return res, nil
}

// searchOne applies rate limit, circuit breaker and bulkhead, in that order, around
// one supplier call.
func (o *Orchestrator) searchOne(ctx context.Context, s supplier.Supplier, cmd supplier.SearchCommand, deadline time.Time) outcome {
	code := s.Code()
	if !o.SearchLimits.Allow(ctx, code) {
		o.Metrics.IncRateLimitDrops("supplier_search")
		return outcome{code: code, status: StatusRateLimited, err: resilience.ErrRateLimited}
	}
	if o.Breakers.Open(code) {
		return o.circuitOpen(code)
	}

	var resp supplier.SearchResponse
	err := o.Breakers.Execute(code, func() error {
		return o.Bulkhead.Do(ctx, func() error {
			timeout := time.Until(deadline)
			if timeout <= 0 {
				return resilience.Timeout(context.DeadlineExceeded)
			}
			start := time.Now()
			r, err := s.Search(ctx, cmd, timeout)
			o.Metrics.ObserveSupplierLatency(code, "search", time.Since(start).Seconds())
			resp = r
			return err
		})
	})
	if err != nil {
		return o.failure(ctx, code, err)
	}
	return outcome{
		code:        code,
		status:      responseStatus(s.Capabilities(), resp),
		offers:      resp.Offers,
		subSearchID: resp.SubSearchID,
	}
}

func (o *Orchestrator) circuitOpen(code string) outcome {
	if o.cfg.CircuitOpenFallback {
		return outcome{code: code, status: StatusSuccess}
	}
	return outcome{code: code, status: StatusCircuitOpen, err: resilience.ErrCircuitOpen}
}

func (o *Orchestrator) failure(ctx context.Context, code string, err error) outcome {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return o.circuitOpen(code)
	case errors.Is(err, resilience.ErrBusy):
		return outcome{code: code, status: StatusBusy, err: err}
	case resilience.Classify(err) == resilience.KindTimeout || ctx.Err() != nil:
		return outcome{code: code, status: StatusTimeout, err: err}
	default:
		o.Logger.Warn("supplier call failed", "supplier", code, "kind", resilience.Classify(err).String(), "error", err)
		return outcome{code: code, status: StatusError, err: err}
	}
}

// responseStatus maps a successful supplier answer to a status. Unfinished answers
// stay POLLING only when the supplier can be polled for the rest.
func responseStatus(caps supplier.Capabilities, r supplier.SearchResponse) Status {
	if r.Complete && !r.TimedOut {
		return StatusSuccess
	}
	if caps.IncrementalPoll && r.SubSearchID != "" {
		return StatusPolling
	}
	if r.TimedOut {
		return StatusTimeout
	}
	return StatusSuccess
}

// merge writes an outcome into the session. Offers replace whatever the supplier
// contributed before since suppliers always answer with their full set.
func (o *Orchestrator) merge(sess *Session, out outcome, searchID string) {
	sess.Statuses[out.code] = out.status
	if out.err != nil {
		sess.Errors[out.code] = out.err.Error()
	} else {
		delete(sess.Errors, out.code)
	}
	if out.subSearchID != "" {
		sess.SubSearchIDs[out.code] = out.subSearchID
	}
	if out.err == nil {
		ref := searchID
		if sub := sess.SubSearchIDs[out.code]; sub != "" {
			ref = sub
		}
		sess.Offers[out.code] = o.stamp(out.code, ref, out.offers)
	}
}

// stamp drops unusable offers and attaches supplier code and signed token.
func (o *Orchestrator) stamp(code, searchRef string, offers []models.Offer) []models.Offer {
	now := o.now()
	maxExpiry := now.Add(o.cfg.OfferTTL)
	out := make([]models.Offer, 0, len(offers))
	for _, of := range offers {
		of.ID = strings.TrimSpace(of.ID)
		if of.ID == "" || of.Price.Amount <= 0 {
			continue
		}
		of.SupplierCode = code
		if of.ExpiresAt.IsZero() || of.ExpiresAt.After(maxExpiry) {
			of.ExpiresAt = maxExpiry
		}
		tok, err := o.Codec.EncodeOffer(token.OfferRef{
			SupplierCode: code,
			SearchID:     searchRef,
			ResultID:     of.ID,
			IssuedAt:     now,
			ExpiresAt:    of.ExpiresAt,
		})
		if err != nil {
			o.Logger.Error("failed to sign offer", "supplier", code, "offer", of.ID, "error", err)
			continue
		}
		of.Token = tok
		out = append(out, of)
	}
	return out
}

// view renders a session through a query without touching the cached offers.
// Without paginate every matching offer is returned on a single page.
func (o *Orchestrator) view(sess *Session, q models.Query, paginate bool) Result {
	codes := make([]string, 0, len(sess.Statuses))
	for code := range sess.Statuses {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var all []models.Offer
	states := make(map[string]SupplierState, len(codes))
	for _, code := range codes {
		offers := sess.Offers[code]
		all = append(all, offers...)
		states[code] = SupplierState{Status: sess.Statuses[code], Offers: len(offers), Error: sess.Errors[code]}
	}

	page, total := applyQuery(all, q, paginate)
	p := q.Page.Normalize()
	if !paginate {
		p = models.Page{Number: 1, Size: total}
	}
	return Result{
		SearchID:   sess.ID,
		Offers:     page,
		Suppliers:  states,
		Incomplete: sess.incomplete(),
		Complete:   sess.Complete,
		Total:      total,
		Page:       p.Number,
		PageSize:   p.Size,
	}
}
