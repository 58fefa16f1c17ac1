// Package cancellation cancels reservations with a bounded synchronous attempt and
// hands failures to a queue that a periodic worker retries until they succeed or
// end in the dead-letter store.
package cancellation

import "time"

// Task is a cancellation that still has to reach the supplier.
type Task struct {
	BookingID          string    `json:"booking_id"`
	SupplierCode       string    `json:"supplier_code"`
	ReservationID      string    `json:"reservation_id"`
	ConfirmationNumber string    `json:"confirmation_number,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	RetryCount         int       `json:"retry_count"`
	LastError          string    `json:"last_error,omitempty"`
}

// DeadLetter is a task that will not be retried again.
type DeadLetter struct {
	Task           Task      `json:"task"`
	Reason         string    `json:"reason"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

const (
	ReasonExpired          = "expired"
	ReasonSupplierNotFound = "supplier not found"
	ReasonExhausted        = "retries exhausted"
	ReasonRejected         = "rejected by supplier"
)
