// ABOUTME: Registry of live client sessions keyed by session id.
// ABOUTME: Guards the lookup table used by the gateway and its HTTP endpoints.

package session

import (
	"errors"
	"sort"
	"sync"
)

// ErrSessionExists indicates a session id is already registered.
var ErrSessionExists = errors.New("session already registered")

// Registry tracks live sessions.
type Registry struct {
	sessions map[string]*State
	mu       sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*State)}
}

// Add registers a session.
func (r *Registry) Add(s *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		return ErrSessionExists
	}
	r.sessions[s.ID] = s
	return nil
}

// Get returns a session by id.
func (r *Registry) Get(id string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes a session and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns live sessions ordered by creation time.
func (r *Registry) List() []*State {
	r.mu.RLock()
	out := make([]*State, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
