package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/models"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/resilience"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/supplier"
)

// Poll resumes an incomplete search: every supplier still POLLING is polled once,
// its cumulative answer replaces its cached offers, and the session is saved.
// The query is applied last over the whole session.
func (o *Orchestrator) Poll(ctx context.Context, searchID string, q models.Query) (Result, error) {
	o.Metrics.IncPolls()
	sess, err := o.Sessions.Get(ctx, searchID)
	if err != nil {
		return Result{}, err
	}
	if sess.Complete {
		return o.view(sess, q, true), nil
	}

	unlock := o.locks.Lock(searchID)
	defer unlock()

	// another poller may have merged while we waited for the lock
	sess, err = o.Sessions.Get(ctx, searchID)
	if err != nil {
		return Result{}, err
	}
	if sess.Complete {
		return o.view(sess, q, true), nil
	}
	if !o.PollLimits.Allow(ctx, searchID) {
		o.Metrics.IncRateLimitDrops("poll")
		o.Logger.Info("poll rate limited, serving cached session", "search_id", searchID)
		return o.view(sess, q, true), nil
	}

	o.pollRound(ctx, sess)
	sess.recompute()
	sess.UpdatedAt = o.now()
	if err := o.Sessions.Save(context.WithoutCancel(ctx), sess, o.now()); err != nil {
		o.Logger.Error("failed to persist search session", "search_id", searchID, "error", err)
	}

	res := o.view(sess, q, true)
	o.Logger.Info("poll completed", "search_id", searchID, "offers", res.Total, "complete", res.Complete)
	return res, nil
}

// pollRound polls all POLLING suppliers in parallel and merges their outcomes.
func (o *Orchestrator) pollRound(ctx context.Context, sess *Session) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	var pending []string
	for code, st := range sess.Statuses {
		if st == StatusPolling {
			pending = append(pending, code)
		}
	}

	outcomes := make([]outcome, len(pending))
	var wg sync.WaitGroup
	for i, code := range pending {
		wg.Add(1)
		go func(i int, code, sub string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.Logger.Error("supplier panic recovered", "supplier", code, "panic", r)
					outcomes[i] = outcome{code: code, status: StatusError, err: errors.New("supplier panicked")}
				}
			}()
			outcomes[i] = o.pollOne(ctx, code, sub)
		}(i, code, sess.SubSearchIDs[code])
	}
	wg.Wait()

	for _, out := range outcomes {
		o.Metrics.IncSupplierOutcome(out.code, "poll", string(out.status))
		o.merge(sess, out, sess.ID)
	}
}

func (o *Orchestrator) pollOne(ctx context.Context, code, subSearchID string) outcome {
	s, err := o.Registry.Get(code)
	if err != nil {
		return outcome{code: code, status: StatusError, err: err}
	}
	caps := s.Capabilities()
	if !caps.IncrementalPoll || subSearchID == "" {
		return outcome{code: code, status: StatusError, err: supplier.ErrNotSupported}
	}

	var resp supplier.SearchResponse
	err = resilience.Retry(ctx, o.cfg.PollRetry, func(ctx context.Context) error {
		return o.Breakers.Execute(code, func() error {
			return o.Bulkhead.Do(ctx, func() error {
				start := time.Now()
				r, err := s.Poll(ctx, subSearchID)
				o.Metrics.ObserveSupplierLatency(code, "poll", time.Since(start).Seconds())
				resp = r
				return err
			})
		})
	})
	if err != nil {
		// merge keeps the offers cached so far for a failed supplier
		out := o.failure(ctx, code, err)
		switch out.status {
		case StatusBusy, StatusRateLimited, StatusTimeout:
			// the supplier still owes results; ask again on the next poll
			out.status = StatusPolling
		}
		return out
	}
	if resp.SubSearchID == "" {
		resp.SubSearchID = subSearchID
	}
	return outcome{
		code:        code,
		status:      responseStatus(caps, resp),
		offers:      resp.Offers,
		subSearchID: resp.SubSearchID,
	}
}
