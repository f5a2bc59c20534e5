// Package sessions stores the server-side half of a browser session: the
// Salesforce token bundle bound to an opaque session ID.
package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce"
)

// DefaultTTL is how long a session lives after login.
const DefaultTTL = 24 * time.Hour

// Session binds one token bundle to an opaque ID. A session is only created
// once a login has produced a complete bundle.
type Session struct {
	ID        string                 `json:"id"`
	Tokens    salesforce.TokenBundle `json:"tokens"`
	CreatedAt time.Time              `json:"createdAt"`
	ExpiresAt time.Time              `json:"expiresAt"`
}

// New starts a session for tokens with a fresh random ID.
func New(tokens salesforce.TokenBundle, ttl time.Duration) Session {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now().UTC()
	return Session{
		ID:        uuid.NewString(),
		Tokens:    tokens,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Authenticated reports whether the session can be used for API calls.
func (s Session) Authenticated() bool {
	return s.Tokens.Complete()
}

// Repo persists sessions. Get returns ErrSessionNotFound for unknown and
// expired IDs alike. Implementations are safe for concurrent use.
type Repo interface {
	Get(ctx context.Context, id string) (Session, error)
	Upsert(ctx context.Context, session Session) error
	Delete(ctx context.Context, id string) error
}
