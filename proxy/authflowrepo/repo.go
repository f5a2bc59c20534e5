// Package authflowrepo remembers the state parameter of logins in flight.
package authflowrepo

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultTTL bounds how long a user may take on the Salesforce login page.
	DefaultTTL = 10 * time.Minute
	defaultCap = 10000
)

var ErrStateNotFound = errors.New("state not found")

type AuthFlowState struct {
	CreatedAt time.Time
}

type Repo interface {
	Upsert(state string, authState AuthFlowState) error
	// Take returns the state and removes it; a state can be taken once.
	Take(state string) (AuthFlowState, error)
}

// InMemoryRepo is a bounded, expiring in-memory Repo.
type InMemoryRepo struct {
	mu     sync.Mutex
	states *expirable.LRU[string, AuthFlowState]
}

func NewInMemoryRepo(ttl time.Duration) *InMemoryRepo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryRepo{
		states: expirable.NewLRU[string, AuthFlowState](defaultCap, nil, ttl),
	}
}

func (r *InMemoryRepo) Upsert(state string, authState AuthFlowState) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	r.states.Add(state, authState)
	return nil
}

func (r *InMemoryRepo) Take(state string) (AuthFlowState, error) {
	if state == "" {
		return AuthFlowState{}, ErrStateNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	authState, ok := r.states.Get(state)
	if !ok {
		return AuthFlowState{}, ErrStateNotFound
	}
	r.states.Remove(state)
	return authState, nil
}
