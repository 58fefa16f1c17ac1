package http

import (
	"errors"
	"net/http"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/booking"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/resilience"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/search"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/supplier"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/token"
)

type ErrorResponse struct {
	Error string            `json:"error"`
	Meta  map[string]string `json:"meta,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, msg string, meta map[string]string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Meta: meta})
}

func BadRequest(w http.ResponseWriter, msg string, meta map[string]string) {
	WriteError(w, http.StatusBadRequest, msg, meta)
}

func Forbidden(w http.ResponseWriter, msg string, meta map[string]string) {
	WriteError(w, http.StatusForbidden, msg, meta)
}

func NotFound(w http.ResponseWriter, msg string, meta map[string]string) {
	WriteError(w, http.StatusNotFound, msg, meta)
}

func Conflict(w http.ResponseWriter, msg string, meta map[string]string) {
	WriteError(w, http.StatusConflict, msg, meta)
}

func Gone(w http.ResponseWriter, msg string, meta map[string]string) {
	WriteError(w, http.StatusGone, msg, meta)
}

func InternalError(w http.ResponseWriter, msg string, meta map[string]string) {
	WriteError(w, http.StatusInternalServerError, msg, meta)
}

func TooManyRequests(w http.ResponseWriter, msg string, meta map[string]string) {
	WriteError(w, http.StatusTooManyRequests, msg, meta)
}

func ServiceUnavailable(w http.ResponseWriter, msg string, meta map[string]string) {
	WriteError(w, http.StatusServiceUnavailable, msg, meta)
}

// writeDomainError maps sentinel errors from the core packages to status codes.
// Unknown errors are reported as 500 without their text.
func writeDomainError(w http.ResponseWriter, err error, meta map[string]string) {
	switch {
	case errors.Is(err, booking.ErrKeyReused):
		Conflict(w, err.Error(), meta)
	case errors.Is(err, token.ErrInvalidToken), errors.Is(err, booking.ErrInvalidRequest):
		BadRequest(w, err.Error(), meta)
	case errors.Is(err, token.ErrOfferExpired):
		Gone(w, err.Error(), meta)
	case errors.Is(err, booking.ErrSupplierNotAllowed):
		Forbidden(w, err.Error(), meta)
	case errors.Is(err, search.ErrSessionNotFound), errors.Is(err, supplier.ErrSupplierNotFound):
		NotFound(w, err.Error(), meta)
	case errors.Is(err, resilience.ErrRateLimited):
		TooManyRequests(w, err.Error(), meta)
	case errors.Is(err, resilience.ErrBusy):
		ServiceUnavailable(w, err.Error(), meta)
	default:
		InternalError(w, "internal error", meta)
	}
}
