package booking

import "github.com/jkjitendra/transfer-aggregator-service-sub000/internal/models"

type Status string

const (
	StatusConfirmed    Status = "CONFIRMED"
	StatusPending      Status = "PENDING"
	StatusFailed       Status = "FAILED"
	StatusPriceChanged Status = "PRICE_CHANGED"
)

// Terminal outcomes are the only ones stored under an idempotency key.
func (s Status) Terminal() bool { return s != StatusPending }

// Result is the outcome of a booking attempt. BookingID is the signed booking token
// and is only set for confirmed bookings.
type Result struct {
	BookingID          string        `json:"booking_id,omitempty"`
	Status             Status        `json:"status"`
	SupplierCode       string        `json:"supplier_code"`
	ReservationID      string        `json:"reservation_id,omitempty"`
	ConfirmationNumber string        `json:"confirmation_number,omitempty"`
	Price              *models.Price `json:"price,omitempty"`
	Instructions       string        `json:"instructions,omitempty"`
	ErrorCode          string        `json:"error_code,omitempty"`
	ErrorMessage       string        `json:"error_message,omitempty"`
	IdempotencyKey     string        `json:"idempotency_key"`
	Replayed           bool          `json:"replayed"`
}

type AmendStatus string

const (
	AmendApplied     AmendStatus = "AMENDED"
	AmendFailed      AmendStatus = "AMEND_FAILED"
	AmendUnsupported AmendStatus = "AMEND_UNSUPPORTED"
)

type AmendResult struct {
	Status       AmendStatus   `json:"status"`
	SupplierCode string        `json:"supplier_code"`
	Price        *models.Price `json:"price,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	Message      string        `json:"message,omitempty"`
}
