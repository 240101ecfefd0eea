package session

import (
	"fmt"
	"sync"
)

// Registry addresses live sessions by identifier. Each session is owned by
// its own state machine; the registry only hands out references.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put registers a session. Duplicate identifiers are rejected.
func (r *Registry) Put(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already registered", s.ID)
	}
	r.sessions[s.ID] = s
	return nil
}

// Get returns the session or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Remove drops the session from the registry. The session itself keeps
// running until it reaches a terminal phase.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// List snapshots all registered sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// AbortAll aborts every registered session, used on server shutdown.
func (r *Registry) AbortAll(reason string) {
	for _, s := range r.List() {
		s.Abort(reason)
	}
}
