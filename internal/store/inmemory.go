package store

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is the single-process snapshot store.
type InMemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]Snapshot
	now   func() time.Time
}

func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryStore{
		ttl:   ttl,
		items: make(map[string]Snapshot),
		now:   time.Now,
	}
}

// Save stamps the snapshot with the current time, overwriting any prior
// entry for the same session, and opportunistically evicts expired entries.
func (s *InMemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	snap.SavedAt = now
	s.items[snap.SessionID] = snap
	s.evictLocked(now)
	return nil
}

func (s *InMemoryStore) Restore(_ context.Context, sessionID string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.items[sessionID]
	if !ok {
		return Snapshot{}, false, nil
	}
	if s.now().UTC().Sub(snap.SavedAt) > s.ttl {
		delete(s.items, sessionID)
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, sessionID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

// Len reports live entries, expired ones included until evicted.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// StartJanitor sweeps expired entries in the background. Eviction is
// already lazy on Restore and opportunistic on Save; the janitor only
// bounds memory for sessions that never reconnect.
func (s *InMemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				s.evictLocked(s.now().UTC())
				s.mu.Unlock()
			}
		}
	}()
}

func (s *InMemoryStore) evictLocked(now time.Time) {
	for id, snap := range s.items {
		if now.Sub(snap.SavedAt) > s.ttl {
			delete(s.items, id)
		}
	}
}
