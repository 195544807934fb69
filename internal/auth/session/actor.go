package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/louisbranch/latchkey/internal/auth/storage"
)

// DefaultMaxAge bounds how long a session stays valid after creation.
const DefaultMaxAge = 30 * 24 * time.Hour

// Manager hands out the single Actor owning each session id.
type Manager struct {
	store  storage.SessionStore
	maxAge time.Duration
	clock  func() time.Time

	mu     sync.Mutex
	actors map[string]*Actor
}

// NewManager creates a session manager over a durable session store.
func NewManager(store storage.SessionStore, maxAge time.Duration) *Manager {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Manager{
		store:  store,
		maxAge: maxAge,
		clock:  time.Now,
		actors: make(map[string]*Actor),
	}
}

// Actor returns the exclusive actor for a session id, creating it on first
// use. Repeated calls with the same id return the same instance.
func (m *Manager) Actor(sessionID string) *Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	actor, ok := m.actors[sessionID]
	if !ok {
		actor = &Actor{
			id:     sessionID,
			store:  m.store,
			maxAge: m.maxAge,
			clock:  m.clock,
		}
		m.actors[sessionID] = actor
	}
	return actor
}

// SetClock overrides the manager clock for new actors. Intended for tests.
func (m *Manager) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
	for _, actor := range m.actors {
		actor.mu.Lock()
		actor.clock = clock
		actor.mu.Unlock()
	}
}

// Actor is the exclusive owner of one session's durable state.
//
// All operations hold the actor mutex for their full duration, including the
// store round trip, so a save and a get against the same session are totally
// ordered. The cached copy is only ever the last state written to or read
// from the store.
type Actor struct {
	id     string
	store  storage.SessionStore
	maxAge time.Duration
	clock  func() time.Time

	mu     sync.Mutex
	cached *Session
}

// ID returns the session identifier this actor owns.
func (a *Actor) ID() string {
	return a.id
}

// Get returns the current session state.
//
// Missing records yield a fresh empty session. Records older than the
// maximum session age are purged from the store before the fresh session is
// returned, so an expired session is indistinguishable from a brand-new one.
// Store failures other than not-found propagate; there is no silent fallback.
func (a *Actor) Get(ctx context.Context) (Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cached != nil {
		if a.clock().UTC().Sub(a.cached.CreatedAt) <= a.maxAge {
			return *a.cached, nil
		}
		a.cached = nil
	}

	record, err := a.store.GetSession(ctx, a.id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Session{CreatedAt: a.clock().UTC()}, nil
		}
		return Session{}, fmt.Errorf("load session %s: %w", a.id, err)
	}

	if a.clock().UTC().Sub(record.CreatedAt) > a.maxAge {
		if err := a.store.DeleteSession(ctx, a.id); err != nil {
			return Session{}, fmt.Errorf("purge expired session %s: %w", a.id, err)
		}
		return Session{CreatedAt: a.clock().UTC()}, nil
	}

	loaded := Session{
		UserID:    record.UserID,
		Challenge: record.Challenge,
		CreatedAt: record.CreatedAt,
	}
	a.cached = &loaded
	return loaded, nil
}

// Save merges a patch over the existing session, persists the result, and
// updates the cache. This is the only mutation path; CreatedAt is preserved
// from the existing record or set to now when creating.
func (a *Actor) Save(ctx context.Context, patch Patch) (Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := a.loadLocked(ctx)
	if err != nil {
		return Session{}, err
	}

	next := merge(existing, patch)
	if next.CreatedAt.IsZero() {
		next.CreatedAt = a.clock().UTC()
	}

	record := storage.SessionRecord{
		ID:        a.id,
		UserID:    next.UserID,
		Challenge: next.Challenge,
		CreatedAt: next.CreatedAt,
	}
	if err := a.store.PutSession(ctx, record); err != nil {
		return Session{}, fmt.Errorf("save session %s: %w", a.id, err)
	}

	a.cached = &next
	return next, nil
}

// Revoke deletes durable state and clears the cache.
func (a *Actor) Revoke(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.DeleteSession(ctx, a.id); err != nil {
		return fmt.Errorf("revoke session %s: %w", a.id, err)
	}
	a.cached = nil
	return nil
}

// loadLocked returns the current state for a merge. An expired record is
// treated as absent so the merge never resurrects stale state. The caller
// holds the actor mutex.
func (a *Actor) loadLocked(ctx context.Context) (Session, error) {
	if a.cached != nil {
		if a.clock().UTC().Sub(a.cached.CreatedAt) <= a.maxAge {
			return *a.cached, nil
		}
		a.cached = nil
	}
	record, err := a.store.GetSession(ctx, a.id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Session{}, nil
		}
		return Session{}, fmt.Errorf("load session %s: %w", a.id, err)
	}
	if a.clock().UTC().Sub(record.CreatedAt) > a.maxAge {
		if err := a.store.DeleteSession(ctx, a.id); err != nil {
			return Session{}, fmt.Errorf("purge expired session %s: %w", a.id, err)
		}
		return Session{}, nil
	}
	return Session{
		UserID:    record.UserID,
		Challenge: record.Challenge,
		CreatedAt: record.CreatedAt,
	}, nil
}
