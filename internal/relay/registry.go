package relay

import (
	"sync"
	"time"
)

// SessionInfo is the operational summary exposed by the HTTP API.
type SessionInfo struct {
	ID        string    `json:"session_id"`
	State     State     `json:"state"`
	Restored  bool      `json:"restored"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry is the process-wide map of live sessions. It is explicitly
// constructed and passed by reference so tests control its lifetime.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All snapshots the live session set for shutdown draining.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionInfo{
			ID:        s.ID,
			State:     s.State(),
			Restored:  s.Restored,
			CreatedAt: s.CreatedAt,
		})
	}
	return out
}
