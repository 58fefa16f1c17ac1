package models_test

import (
	"strings"
	"testing"
	"time"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/models"
)

func validCriteria(now time.Time) models.SearchCriteria {
	return models.SearchCriteria{
		Pickup:     models.Location{Type: "airport", Code: " lis "},
		Dropoff:    models.Location{Type: "address", Address: "Rua Augusta 1"},
		PickupAt:   now.Add(24 * time.Hour),
		Passengers: models.Passengers{Adults: 2, Children: 1},
		Currency:   "eur",
	}
}

func TestSearchCriteria_ValidateNormalizes(t *testing.T) {
	now := time.Now()
	c := validCriteria(now)
	if err := c.Validate(now); err != nil {
		t.Fatalf("expected valid criteria, got %v", err)
	}
	if c.Pickup.Code != "LIS" || c.Currency != "EUR" {
		t.Errorf("expected upper-cased code and currency, got %q %q", c.Pickup.Code, c.Currency)
	}

	c.Currency = ""
	if err := c.Validate(now); err != nil || c.Currency != "EUR" {
		t.Errorf("expected default currency EUR, got %q (%v)", c.Currency, err)
	}
}

func TestSearchCriteria_ValidateRejects(t *testing.T) {
	now := time.Now()
	lat := 91.0
	tests := []struct {
		name   string
		mutate func(c *models.SearchCriteria)
		want   string
	}{
		{"NoAdults", func(c *models.SearchCriteria) { c.Passengers.Adults = 0 }, "adults"},
		{"AirportWithoutCode", func(c *models.SearchCriteria) { c.Pickup.Code = "" }, "missing pickup.code"},
		{"UnknownLocationType", func(c *models.SearchCriteria) { c.Dropoff.Type = "harbour" }, "dropoff.type"},
		{"BadLatitude", func(c *models.SearchCriteria) {
			c.Dropoff = models.Location{Type: "coordinates", Lat: &lat, Lng: &lat}
		}, "dropoff.lat"},
		{"BadCurrency", func(c *models.SearchCriteria) { c.Currency = "EURO" }, "currency"},
		{"PastPickup", func(c *models.SearchCriteria) { c.PickupAt = now.Add(-time.Minute) }, "past"},
		{"FarPickup", func(c *models.SearchCriteria) { c.PickupAt = now.AddDate(2, 0, 0) }, "too far"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCriteria(now)
			tt.mutate(&c)
			err := c.Validate(now)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestBookingRequest_Validate(t *testing.T) {
	req := models.BookingRequest{
		OfferToken: "tok",
		Passenger: models.Passenger{
			FirstName: "Ana", LastName: "Silva", Email: " ana@example.com ", Phone: "+351912345678",
		},
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	if req.Passenger.Email != "ana@example.com" {
		t.Errorf("expected trimmed email, got %q", req.Passenger.Email)
	}

	req.Passenger.Phone = "call me"
	if err := req.Validate(); err == nil {
		t.Error("expected error for malformed phone")
	}
}
