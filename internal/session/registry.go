package session

import (
	"sync"
)

// Registry is an in-memory lookup of sessions by ID that resolves a session
// reference back to its Session object. The pool (internal/pool) keeps its
// own all/idle/in_use maps and does not use it. Unlike the teacher's disk-persisted SessionIndex, spec §4.9
// defines the pool's bookkeeping (all/idle/in_use) as purely in-memory, so
// this registry carries no persistence layer — only the per-ID locking
// discipline, via SessionLockMap.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Session
	locks *SessionLockMap
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[string]*Session),
		locks: NewSessionLockMap(),
	}
}

// Put registers a session under its ID.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.id] = s
}

// Get looks up a session by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Delete removes a session and its per-ID lock.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
	r.locks.Delete(id)
}

// Len reports how many sessions are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// All returns a snapshot of every registered session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// Lock acquires the per-session exclusive lock for id.
func (r *Registry) Lock(id string) { r.locks.Lock(id) }

// Unlock releases the per-session exclusive lock for id.
func (r *Registry) Unlock(id string) { r.locks.Unlock(id) }
