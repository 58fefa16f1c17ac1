package search

import (
	"time"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/models"
)

// Status is the outcome of one supplier's contribution to a search.
type Status string

const (
	StatusSuccess     Status = "SUCCESS"
	StatusPolling     Status = "POLLING"
	StatusError       Status = "ERROR"
	StatusTimeout     Status = "TIMEOUT"
	StatusCircuitOpen Status = "CIRCUIT_OPEN"
	StatusRateLimited Status = "RATE_LIMITED"
	StatusBusy        Status = "BUSY"
)

// Terminal reports whether no further poll can change the supplier's slot.
func (s Status) Terminal() bool { return s != StatusPolling }

type SupplierState struct {
	Status Status `json:"status"`
	Offers int    `json:"offers"`
	Error  string `json:"error,omitempty"`
}

// Result is what Search and Poll return. Incomplete is set when any supplier is
// not SUCCESS; Complete is set when no supplier can still be polled.
type Result struct {
	SearchID   string                   `json:"search_id"`
	Offers     []models.Offer           `json:"offers"`
	Suppliers  map[string]SupplierState `json:"suppliers"`
	Incomplete bool                     `json:"incomplete"`
	Complete   bool                     `json:"complete"`
	Total      int                      `json:"total"`
	Page       int                      `json:"page"`
	PageSize   int                      `json:"page_size"`
	DurationMs int64                    `json:"duration_ms"`
}

// Session tracks an incomplete search between polls.
type Session struct {
	ID           string                    `json:"id"`
	TenantID     string                    `json:"tenant_id"`
	Criteria     models.SearchCriteria     `json:"criteria"`
	Offers       map[string][]models.Offer `json:"offers"`
	Statuses     map[string]Status         `json:"statuses"`
	Errors       map[string]string         `json:"errors"`
	SubSearchIDs map[string]string         `json:"sub_search_ids"`
	Complete     bool                      `json:"complete"`
	CreatedAt    time.Time                 `json:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

func newSession(id, tenantID string, c models.SearchCriteria, now time.Time) *Session {
	return &Session{
		ID:           id,
		TenantID:     tenantID,
		Criteria:     c,
		Offers:       make(map[string][]models.Offer),
		Statuses:     make(map[string]Status),
		Errors:       make(map[string]string),
		SubSearchIDs: make(map[string]string),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// normalize restores maps that decode as nil from a stored session.
func (s *Session) normalize() {
	if s.Offers == nil {
		s.Offers = make(map[string][]models.Offer)
	}
	if s.Statuses == nil {
		s.Statuses = make(map[string]Status)
	}
	if s.Errors == nil {
		s.Errors = make(map[string]string)
	}
	if s.SubSearchIDs == nil {
		s.SubSearchIDs = make(map[string]string)
	}
}

// recompute refreshes the completeness flag from the supplier statuses.
func (s *Session) recompute() {
	s.Complete = true
	for _, st := range s.Statuses {
		if !st.Terminal() {
			s.Complete = false
			return
		}
	}
}

func (s *Session) incomplete() bool {
	for _, st := range s.Statuses {
		if st != StatusSuccess {
			return true
		}
	}
	return false
}
