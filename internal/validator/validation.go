package validator

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Struct validates v and flattens field errors into one readable error.
func Struct(v any) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return errors.New(strings.Join(msgs, ", "))
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Namespace())
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_if":
		return "missing " + field
	case "oneof":
		return fmt.Sprintf("invalid %s (one of %s)", field, fe.Param())
	default:
		return "invalid " + field
	}
}

// ValidatePickupTime rejects pickups in the past or more than a year ahead.
func ValidatePickupTime(at, now time.Time) error {
	if at.Before(now) {
		return errors.New("pickup_at is in the past")
	}
	if at.After(now.AddDate(1, 0, 0)) {
		return errors.New("pickup_at is too far ahead")
	}
	return nil
}
