// Package supplier defines the contract every transfer backend implements and the
// registry the orchestrators resolve suppliers from.
package supplier

import (
	"context"
	"errors"
	"time"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/models"
)

var (
	ErrSupplierNotFound = errors.New("supplier not found")
	ErrNotSupported     = errors.New("operation not supported by supplier")
)

// Capabilities are queried explicitly by the orchestrators instead of probing
// for optional methods.
type Capabilities struct {
	// IncrementalPoll: Search may answer incomplete and Poll returns cumulative results.
	IncrementalPoll bool
	// Amend: the supplier can change an existing reservation in place.
	Amend bool
}

type SearchCommand struct {
	SearchID string // aggregator search id
	Criteria models.SearchCriteria
}

// SearchResponse is returned by Search and Poll. Offers are always the supplier's
// full result set so far, never a delta.
type SearchResponse struct {
	Offers      []models.Offer
	SubSearchID string
	Complete    bool
	TimedOut    bool
}

type BookStatus string

const (
	BookConfirmed    BookStatus = "confirmed"
	BookPending      BookStatus = "pending"
	BookFailed       BookStatus = "failed"
	BookPriceChanged BookStatus = "priceChanged"
)

type BookCommand struct {
	SearchID  string // supplier-side search id taken from the offer token
	ResultID  string
	Passenger models.Passenger
	Flight    string
	Notes     string
}

type BookResponse struct {
	Status             BookStatus
	ReservationID      string
	ConfirmationNumber string
	Price              models.Price
	Instructions       string
	ErrorCode          string
	ErrorMessage       string
}

type CancelStatus string

const (
	CancelCancelled CancelStatus = "cancelled"
	CancelFailed    CancelStatus = "failed"
)

type CancelCommand struct {
	ReservationID      string
	ConfirmationNumber string
}

type CancelResponse struct {
	Status           CancelStatus
	Refund           *models.Price
	AlreadyCancelled bool
	ErrorCode        string
	ErrorMessage     string
}

type AmendCommand struct {
	ReservationID      string
	ConfirmationNumber string
	Changes            models.AmendRequest
}

type AmendResponse struct {
	Applied      bool
	Price        *models.Price
	ErrorCode    string
	ErrorMessage string
}

// Supplier is one transfer backend. Poll is only called when
// Capabilities().IncrementalPoll is set and Amend only when Capabilities().Amend is
// set; implementations without the capability return ErrNotSupported.
type Supplier interface {
	Code() string
	Capabilities() Capabilities
	Search(ctx context.Context, cmd SearchCommand, timeout time.Duration) (SearchResponse, error)
	Poll(ctx context.Context, subSearchID string) (SearchResponse, error)
	Book(ctx context.Context, cmd BookCommand, timeout time.Duration) (BookResponse, error)
	Cancel(ctx context.Context, cmd CancelCommand) (CancelResponse, error)
	Amend(ctx context.Context, cmd AmendCommand) (AmendResponse, error)
}
