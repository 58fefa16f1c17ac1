package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestCodec(t *testing.T, now time.Time) *Codec {
	t.Helper()
	c, err := NewCodec(testSecret)
	require.NoError(t, err)
	return c.WithClock(func() time.Time { return now })
}

func TestNewCodec_RejectsShortSecret(t *testing.T) {
	_, err := NewCodec([]byte("too-short"))
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestOfferToken_RoundTripProperty(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, now)

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("decode(encode(ref)) == ref", prop.ForAll(
		func(supplier, searchID, resultID string, ttl int64) bool {
			ref := OfferRef{
				SupplierCode: supplier,
				SearchID:     searchID,
				ResultID:     resultID,
				IssuedAt:     now,
				ExpiresAt:    now.Add(time.Duration(ttl) * time.Second),
			}
			tok, err := c.EncodeOffer(ref)
			if err != nil {
				return false
			}
			got, err := c.DecodeOffer(tok)
			if err != nil {
				return false
			}
			return got.SupplierCode == ref.SupplierCode &&
				got.SearchID == ref.SearchID &&
				got.ResultID == ref.ResultID &&
				got.IssuedAt.Equal(ref.IssuedAt) &&
				got.ExpiresAt.Equal(ref.ExpiresAt)
		},
		gen.AlphaString(),
		gen.Identifier(),
		gen.NumString(),
		gen.Int64Range(1, 86400),
	))

	properties.TestingRun(t)
}

func TestOfferToken_TamperedSignatureProperty(t *testing.T) {
	now := time.Now()
	c := newTestCodec(t, now)
	tok, err := c.EncodeOffer(OfferRef{
		SupplierCode: "acme",
		SearchID:     "s-1",
		ResultID:     "r-1",
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
	})
	require.NoError(t, err)
	payload, sig, _ := strings.Cut(tok, ".")

	properties := gopter.NewProperties(nil)
	properties.Property("any changed signature character is rejected", prop.ForAll(
		func(pos, shift int) bool {
			pos = pos % len(sig)
			idx := strings.IndexByte(alphabet, sig[pos])
			repl := alphabet[(idx+shift)%len(alphabet)]
			tampered := payload + "." + sig[:pos] + string(repl) + sig[pos+1:]
			_, err := c.DecodeOffer(tampered)
			return errors.Is(err, ErrInvalidToken)
		},
		gen.IntRange(0, 1000),
		gen.IntRange(1, len(alphabet)-1),
	))
	properties.TestingRun(t)
}

func TestOfferToken_ExpiredIsDistinctFromInvalid(t *testing.T) {
	issued := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	c := newTestCodec(t, issued)
	ref := OfferRef{SupplierCode: "acme", SearchID: "s-1", ResultID: "r-9", IssuedAt: issued, ExpiresAt: issued.Add(15 * time.Minute)}
	tok, err := c.EncodeOffer(ref)
	require.NoError(t, err)

	later := c.WithClock(func() time.Time { return issued.Add(time.Hour) })
	got, err := later.DecodeOffer(tok)
	require.ErrorIs(t, err, ErrOfferExpired)
	assert.NotErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, "acme", got.SupplierCode)
	assert.Equal(t, "r-9", got.ResultID)
	assert.True(t, got.ExpiresAt.Equal(ref.ExpiresAt))
}

func TestDecode_MalformedInputs(t *testing.T) {
	c := newTestCodec(t, time.Now())
	good, err := c.EncodeBooking(BookingRef{SupplierCode: "acme", ReservationID: "R1"})
	require.NoError(t, err)

	other, err := NewCodec([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	foreign, err := other.EncodeBooking(BookingRef{SupplierCode: "acme", ReservationID: "R1"})
	require.NoError(t, err)

	tests := []struct {
		name string
		tok  string
	}{
		{"Empty", ""},
		{"NoSeparator", "abcdef"},
		{"ThreeSegments", good + ".x"},
		{"EmptySignature", strings.Split(good, ".")[0] + "."},
		{"ForeignSecret", foreign},
		{"NotBase64Payload", "!!!." + strings.Split(good, ".")[1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.DecodeBooking(tt.tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestBookingToken_ConfirmationNormalization(t *testing.T) {
	c := newTestCodec(t, time.Now())
	empty := ""
	conf := "CNF-42"

	tests := []struct {
		name string
		in   *string
		want *string
	}{
		{"Nil", nil, nil},
		{"EmptyBecomesNil", &empty, nil},
		{"Kept", &conf, &conf},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := c.EncodeBooking(BookingRef{SupplierCode: "acme", ReservationID: "R1", ConfirmationNumber: tt.in})
			require.NoError(t, err)
			got, err := c.DecodeBooking(tok)
			require.NoError(t, err)
			assert.Equal(t, "acme", got.SupplierCode)
			assert.Equal(t, "R1", got.ReservationID)
			assert.Equal(t, tt.want, got.ConfirmationNumber)
		})
	}
}

func TestBookingToken_Deterministic(t *testing.T) {
	c := newTestCodec(t, time.Now())
	ref := BookingRef{SupplierCode: "acme", ReservationID: "R1"}
	a, err := c.EncodeBooking(ref)
	require.NoError(t, err)
	b, err := c.EncodeBooking(ref)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecode_RejectsOtherKind(t *testing.T) {
	now := time.Now()
	c := newTestCodec(t, now)
	offerTok, err := c.EncodeOffer(OfferRef{
		SupplierCode: "acme",
		SearchID:     "s-1",
		ResultID:     "offer-42",
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
	})
	require.NoError(t, err)
	bookingTok, err := c.EncodeBooking(BookingRef{SupplierCode: "acme", ReservationID: "R1"})
	require.NoError(t, err)

	_, err = c.DecodeBooking(offerTok)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = c.DecodeOffer(bookingTok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecode_RejectsUnknownPayloadFields(t *testing.T) {
	c := newTestCodec(t, time.Now())
	tok, err := c.encode(kindBooking, map[string]any{"s": "acme", "r": "R1", "q": "s-1"})
	require.NoError(t, err)

	_, err = c.DecodeBooking(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
