package models

import (
	"strings"
	"time"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/validator"
)

type Location struct {
	Type    string   `json:"type" validate:"required,oneof=airport address coordinates"`
	Code    string   `json:"code,omitempty" validate:"required_if=Type airport,omitempty,len=3,alpha"`
	Address string   `json:"address,omitempty" validate:"required_if=Type address"`
	Lat     *float64 `json:"lat,omitempty" validate:"required_if=Type coordinates,omitempty,latitude"`
	Lng     *float64 `json:"lng,omitempty" validate:"required_if=Type coordinates,omitempty,longitude"`
}

type Passengers struct {
	Adults   int `json:"adults" validate:"gte=1,lte=50"`
	Children int `json:"children" validate:"gte=0,lte=50"`
	Infants  int `json:"infants" validate:"gte=0,lte=20"`
}

func (p Passengers) Total() int { return p.Adults + p.Children + p.Infants }

// SearchCriteria is the normalized input of a transfer search.
type SearchCriteria struct {
	Pickup     Location   `json:"pickup" validate:"required"`
	Dropoff    Location   `json:"dropoff" validate:"required"`
	PickupAt   time.Time  `json:"pickup_at" validate:"required"`
	Passengers Passengers `json:"passengers"`
	Luggage    int        `json:"luggage" validate:"gte=0,lte=100"`
	Currency   string     `json:"currency" validate:"omitempty,iso4217"`
	Language   string     `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
}

// Validate checks the criteria and normalizes casing in place.
func (c *SearchCriteria) Validate(now time.Time) error {
	c.Pickup.Code = strings.ToUpper(strings.TrimSpace(c.Pickup.Code))
	c.Dropoff.Code = strings.ToUpper(strings.TrimSpace(c.Dropoff.Code))
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		c.Currency = "EUR"
	}
	if err := validator.Struct(c); err != nil {
		return err
	}
	return validator.ValidatePickupTime(c.PickupAt, now)
}

type Passenger struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required,e164"`
}

// BookingRequest asks to book the offer referenced by OfferToken.
type BookingRequest struct {
	OfferToken    string    `json:"offer_token" validate:"required"`
	Passenger     Passenger `json:"passenger"`
	FlightNumber  string    `json:"flight_number,omitempty" validate:"omitempty,max=10"`
	Notes         string    `json:"notes,omitempty" validate:"max=500"`
	ExpectedPrice *Price    `json:"expected_price,omitempty"`
}

func (r *BookingRequest) Validate() error {
	r.Passenger.Email = strings.TrimSpace(r.Passenger.Email)
	return validator.Struct(r)
}

// AmendRequest changes details of an existing reservation.
type AmendRequest struct {
	PickupAt     *time.Time `json:"pickup_at,omitempty"`
	FlightNumber string     `json:"flight_number,omitempty" validate:"omitempty,max=10"`
	Notes        string     `json:"notes,omitempty" validate:"max=500"`
}
