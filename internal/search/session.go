package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/store"
)

var ErrSessionNotFound = errors.New("search session not found")

const sessionKeyPrefix = "session:"

// SessionStore persists sessions with a fixed lifetime counted from creation.
type SessionStore struct {
	kv  store.Store
	ttl time.Duration
}

func NewSessionStore(kv store.Store, ttl time.Duration) *SessionStore {
	return &SessionStore{kv: kv, ttl: ttl}
}

func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := store.GetJSON(ctx, s.kv, sessionKeyPrefix+id, &sess); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	sess.normalize()
	return &sess, nil
}

// Save writes the session for the rest of its lifetime. Sessions past their
// lifetime are not written and read back as not found.
func (s *SessionStore) Save(ctx context.Context, sess *Session, now time.Time) error {
	remaining := sess.CreatedAt.Add(s.ttl).Sub(now)
	if remaining <= 0 {
		return nil
	}
	return store.PutJSON(ctx, s.kv, sessionKeyPrefix+sess.ID, sess, remaining)
}
