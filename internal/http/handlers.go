package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/booking"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/cancellation"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/models"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/search"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/tenant"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type Searcher interface {
	Search(ctx context.Context, t tenant.Tenant, c models.SearchCriteria) (search.Result, error)
	Poll(ctx context.Context, searchID string, q models.Query) (search.Result, error)
}

type Booker interface {
	Book(ctx context.Context, t tenant.Tenant, req models.BookingRequest, key string) (booking.Result, error)
	Amend(ctx context.Context, t tenant.Tenant, bookingID string, changes models.AmendRequest) (booking.AmendResult, error)
}

type Canceller interface {
	Cancel(ctx context.Context, bookingID string) (cancellation.Result, error)
	Status(ctx context.Context, bookingID string) (cancellation.Result, error)
}

type Handler struct {
	search Searcher
	book   Booker
	cancel Canceller
	now    func() time.Time
}

func NewHandler(s Searcher, b Booker, c Canceller) *Handler {
	return &Handler{search: s, book: b, cancel: c, now: time.Now}
}

func requestMeta(r *http.Request) map[string]string {
	reqID := middleware.GetReqID(r.Context())
	if reqID == "" {
		reqID = uuid.New().String()
	}
	return map[string]string{"request_id": reqID}
}

func (h *Handler) tenantOf(w http.ResponseWriter, r *http.Request, meta map[string]string) (tenant.Tenant, bool) {
	t, ok := tenant.FromContext(r.Context())
	if !ok {
		Forbidden(w, "unknown tenant", meta)
	}
	return t, ok
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	meta := requestMeta(r)
	t, ok := h.tenantOf(w, r, meta)
	if !ok {
		return
	}
	var c models.SearchCriteria
	if err := readJSON(w, r, &c); err != nil {
		BadRequest(w, err.Error(), meta)
		return
	}
	if err := c.Validate(h.now()); err != nil {
		BadRequest(w, err.Error(), meta)
		return
	}

	res, err := h.search.Search(r.Context(), t, c)
	if err != nil {
		writeDomainError(w, err, meta)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	meta := requestMeta(r)
	q, err := parseQuery(r)
	if err != nil {
		BadRequest(w, err.Error(), meta)
		return
	}
	res, err := h.search.Poll(r.Context(), chi.URLParam(r, "searchID"), q)
	if err != nil {
		writeDomainError(w, err, meta)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// parseQuery reads filter, sort and page parameters of a poll.
func parseQuery(r *http.Request) (models.Query, error) {
	v := r.URL.Query()
	var q models.Query

	field, ok := search.ParseSortField(v.Get("sort"))
	if !ok {
		return q, fmt.Errorf("invalid sort %q", v.Get("sort"))
	}
	q.Sort.Field = field
	switch strings.ToLower(v.Get("order")) {
	case "", "asc":
	case "desc":
		q.Sort.Desc = true
	default:
		return q, fmt.Errorf("invalid order %q", v.Get("order"))
	}

	ints := map[string]*int{"page": &q.Page.Number, "size": &q.Page.Size, "min_capacity": &q.Filter.MinCapacity}
	for name, dst := range ints {
		s := v.Get(name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid %s", name)
		}
		*dst = n
	}
	if s := v.Get("max_price"); s != "" {
		p, err := strconv.ParseFloat(s, 64)
		if err != nil || p < 0 {
			return q, fmt.Errorf("invalid max_price")
		}
		q.Filter.MaxPrice = p
	}
	if s := v.Get("refundable"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, fmt.Errorf("invalid refundable")
		}
		q.Filter.RefundableOnly = b
	}
	q.Filter.VehicleType = v.Get("vehicle_type")
	q.Filter.Provider = v.Get("provider")
	q.Page = q.Page.Normalize()
	return q, nil
}

func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	meta := requestMeta(r)
	t, ok := h.tenantOf(w, r, meta)
	if !ok {
		return
	}
	var req models.BookingRequest
	if err := readJSON(w, r, &req); err != nil {
		BadRequest(w, err.Error(), meta)
		return
	}

	res, err := h.book.Book(r.Context(), t, req, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		writeDomainError(w, err, meta)
		return
	}
	w.Header().Set(IdempotencyKeyHeader, res.IdempotencyKey)
	status := http.StatusOK
	switch res.Status {
	case booking.StatusConfirmed:
		status = http.StatusCreated
	case booking.StatusPending:
		status = http.StatusAccepted
	}
	WriteJSON(w, status, res)
}

func (h *Handler) Amend(w http.ResponseWriter, r *http.Request) {
	meta := requestMeta(r)
	t, ok := h.tenantOf(w, r, meta)
	if !ok {
		return
	}
	var changes models.AmendRequest
	if err := readJSON(w, r, &changes); err != nil {
		BadRequest(w, err.Error(), meta)
		return
	}
	res, err := h.book.Amend(r.Context(), t, chi.URLParam(r, "bookingID"), changes)
	if err != nil {
		writeDomainError(w, err, meta)
		return
	}
	status := http.StatusOK
	if res.Status == booking.AmendUnsupported {
		status = http.StatusConflict
	}
	WriteJSON(w, status, res)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	meta := requestMeta(r)
	res, err := h.cancel.Cancel(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeDomainError(w, err, meta)
		return
	}
	status := http.StatusOK
	if res.Status == cancellation.StatusPending {
		status = http.StatusAccepted
	}
	WriteJSON(w, status, res)
}

func (h *Handler) CancelStatus(w http.ResponseWriter, r *http.Request) {
	meta := requestMeta(r)
	res, err := h.cancel.Status(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeDomainError(w, err, meta)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
