package session

import (
	"log"
	"sync"

	"callprobe/pkg/types"
)

// Registry tracks open sessions so teardown can reach every one of them.
// ARCHITECTURAL DISCOVERY: Insertion order is preserved; CloseAll walks it
// in reverse so later actors (usually clients) go away before the staff
// they were calling.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s. Adding the same session twice is an error.
func (r *Registry) Add(s *Session) error {
	if s == nil {
		return ErrNilSession
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID()]; exists {
		return ErrDuplicateSession
	}
	r.sessions[s.ID()] = s
	r.order = append(r.order, s.ID())
	return nil
}

// Remove forgets s without closing it. Idempotent.
func (r *Registry) Remove(s *Session) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID()]; !exists {
		return
	}
	delete(r.sessions, s.ID())
	for i, id := range r.order {
		if id == s.ID() {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns registered sessions in insertion order
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// ByRole filters registered sessions by actor role
func (r *Registry) ByRole(role types.Role) []*Session {
	var out []*Session
	for _, s := range r.Sessions() {
		if s.Role() == role {
			out = append(out, s)
		}
	}
	return out
}

// CloseAll closes and removes every session, newest first. Close errors are
// logged and otherwise ignored. It returns how many sessions were closed.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	order := r.order
	sessions := r.sessions
	r.order = nil
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		s := sessions[order[i]]
		if err := s.Close(); err != nil {
			log.Printf("[Session] ignoring close error for %s: %v", s.Label(), err)
		}
	}
	return len(order)
}

// GetStats returns counts for debugging scenario teardown
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := map[string]int{"total": len(r.sessions)}
	for _, s := range r.sessions {
		stats[string(s.Role())]++
		if s.State() == StateConnected {
			stats["connected"]++
		}
	}
	return stats
}
