// Package token encodes offer and booking references as tamper-evident strings so
// they can be handed to clients and decoded later without a session store.
//
// Wire format: base64url(payload) "." base64url(HMAC-SHA256(kind "." base64url(payload))).
// The kind ("offer" or "booking") is part of the signed input only, so a token
// of one kind never verifies as the other. The payload is readable by anyone
// holding the token; the signature only proves it was issued by this service.
package token

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MinSecretBytes is the shortest accepted HMAC key (256 bits).
const MinSecretBytes = 32

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrOfferExpired = errors.New("offer expired")
	ErrWeakSecret   = fmt.Errorf("token secret must be at least %d bytes", MinSecretBytes)
)

var b64 = base64.RawURLEncoding

const (
	kindOffer   = "offer"
	kindBooking = "booking"
)

// OfferRef is the content of an offer token.
type OfferRef struct {
	SupplierCode string
	SearchID     string
	ResultID     string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// BookingRef is the content of a booking token. ConfirmationNumber is nil when
// the supplier did not return one.
type BookingRef struct {
	SupplierCode       string
	ReservationID      string
	ConfirmationNumber *string
}

type offerPayload struct {
	Supplier  string `json:"s"`
	SearchID  string `json:"q"`
	ResultID  string `json:"r"`
	ExpiresAt int64  `json:"e"`
	IssuedAt  int64  `json:"i"`
}

type bookingPayload struct {
	Supplier     string  `json:"s"`
	Reservation  string  `json:"r"`
	Confirmation *string `json:"c"`
}

// Codec signs and verifies references with a single server secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < MinSecretBytes {
		return nil, ErrWeakSecret
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{secret: key, now: time.Now}, nil
}

// WithClock returns a copy of the codec that reads the current time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	return &Codec{secret: c.secret, now: now}
}

func (c *Codec) EncodeOffer(ref OfferRef) (string, error) {
	return c.encode(kindOffer, offerPayload{
		Supplier:  ref.SupplierCode,
		SearchID:  ref.SearchID,
		ResultID:  ref.ResultID,
		ExpiresAt: ref.ExpiresAt.Unix(),
		IssuedAt:  ref.IssuedAt.Unix(),
	})
}

// DecodeOffer verifies the signature first. A correctly signed token whose expiry
// has passed returns the decoded ref together with ErrOfferExpired.
func (c *Codec) DecodeOffer(tok string) (OfferRef, error) {
	var p offerPayload
	if err := c.decode(kindOffer, tok, &p); err != nil {
		return OfferRef{}, err
	}
	ref := OfferRef{
		SupplierCode: p.Supplier,
		SearchID:     p.SearchID,
		ResultID:     p.ResultID,
		IssuedAt:     time.Unix(p.IssuedAt, 0).UTC(),
		ExpiresAt:    time.Unix(p.ExpiresAt, 0).UTC(),
	}
	if !c.now().Before(ref.ExpiresAt) {
		return ref, ErrOfferExpired
	}
	return ref, nil
}

func (c *Codec) EncodeBooking(ref BookingRef) (string, error) {
	return c.encode(kindBooking, bookingPayload{
		Supplier:     ref.SupplierCode,
		Reservation:  ref.ReservationID,
		Confirmation: normalizeConfirmation(ref.ConfirmationNumber),
	})
}

func (c *Codec) DecodeBooking(tok string) (BookingRef, error) {
	var p bookingPayload
	if err := c.decode(kindBooking, tok, &p); err != nil {
		return BookingRef{}, err
	}
	return BookingRef{
		SupplierCode:       p.Supplier,
		ReservationID:      p.Reservation,
		ConfirmationNumber: normalizeConfirmation(p.Confirmation),
	}, nil
}

func (c *Codec) encode(kind string, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal token payload: %w", err)
	}
	payload := b64.EncodeToString(raw)
	return payload + "." + b64.EncodeToString(c.sign(kind, payload)), nil
}

func (c *Codec) decode(kind, tok string, v any) error {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ErrInvalidToken
	}
	// Compare encoded forms: base64 decoding ignores trailing bits, so two
	// different signature strings can decode to the same bytes.
	want := b64.EncodeToString(c.sign(kind, parts[0]))
	if !hmac.Equal([]byte(parts[1]), []byte(want)) {
		return ErrInvalidToken
	}
	raw, err := b64.DecodeString(parts[0])
	if err != nil {
		return ErrInvalidToken
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return ErrInvalidToken
	}
	return nil
}

func (c *Codec) sign(kind, payload string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(kind + "."))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func normalizeConfirmation(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
