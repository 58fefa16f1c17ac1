package models

import "time"

type Vehicle struct {
	Type          string `json:"type"`
	Class         string `json:"class"`
	Model         string `json:"model,omitempty"`
	MaxPassengers int    `json:"max_passengers"`
	MaxBags       int    `json:"max_bags"`
}

type Provider struct {
	Name   string  `json:"name"`
	Rating float64 `json:"rating"`
}

type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type Cancellation struct {
	Refundable bool       `json:"refundable"`
	FreeUntil  *time.Time `json:"free_until,omitempty"`
}

// Offer is a priced transfer option from one supplier. Offers are read-only once
// mapped from the supplier's answer.
type Offer struct {
	ID              string         `json:"id"`
	SupplierCode    string         `json:"supplier"`
	Vehicle         Vehicle        `json:"vehicle"`
	Provider        Provider       `json:"provider"`
	Price           Price          `json:"price"`
	Cancellation    Cancellation   `json:"cancellation"`
	DurationMinutes int            `json:"duration_minutes"`
	DistanceKm      float64        `json:"distance_km"`
	Amenities       []string       `json:"amenities,omitempty"`
	ExpiresAt       time.Time      `json:"expires_at"`
	Extra           map[string]any `json:"extra,omitempty"`
	Token           string         `json:"token,omitempty"`
}
