package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
)

// InMemoryRepo keeps sessions in process memory. Sessions do not survive a
// restart and are not shared between replicas.
type InMemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

func (r *InMemoryRepo) Upsert(_ context.Context, session Session) error {
	if session.ID == "" {
		return fmt.Errorf("%w: session id is required", apperrors.ErrInvalidRequest)
	}
	if !session.Authenticated() {
		return fmt.Errorf("%w: refusing to store a session without tokens", apperrors.ErrInvalidRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return nil
}

func (r *InMemoryRepo) Get(_ context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, apperrors.ErrSessionNotFound
	}

	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return Session{}, apperrors.ErrSessionNotFound
	}
	if session.Expired(r.now()) {
		_ = r.Delete(context.Background(), id)
		return Session{}, apperrors.ErrSessionNotFound
	}
	return session, nil
}

// Delete removes a session; deleting an unknown ID is not an error.
func (r *InMemoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// PruneExpired drops every expired session and returns how many were removed.
func (r *InMemoryRepo) PruneExpired() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

func (r *InMemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
