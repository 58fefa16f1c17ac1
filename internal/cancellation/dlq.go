package cancellation

import (
	"context"
	"errors"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/store"
)

const deadLetterKeyPrefix = "dlq:"

// DeadLetters keeps dead-lettered tasks by booking id without expiry.
type DeadLetters struct {
	kv store.Store
}

func NewDeadLetters(kv store.Store) *DeadLetters {
	return &DeadLetters{kv: kv}
}

func (d *DeadLetters) Put(ctx context.Context, dl DeadLetter) error {
	return store.PutJSON(ctx, d.kv, deadLetterKeyPrefix+dl.Task.BookingID, dl, 0)
}

func (d *DeadLetters) Get(ctx context.Context, bookingID string) (DeadLetter, bool, error) {
	var dl DeadLetter
	err := store.GetJSON(ctx, d.kv, deadLetterKeyPrefix+bookingID, &dl)
	if errors.Is(err, store.ErrNotFound) {
		return DeadLetter{}, false, nil
	}
	if err != nil {
		return DeadLetter{}, false, err
	}
	return dl, true, nil
}
