package store

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a snapshot stays restorable.
const DefaultTTL = 30 * time.Minute

// Snapshot is the minimal continuity data kept for a call session.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	ThreadID  string    `json:"thread_id"`
	SavedAt   time.Time `json:"saved_at"`
}

// Store persists session continuity snapshots with a fixed TTL.
// Restore never returns a snapshot strictly older than the TTL; a
// snapshot aged exactly the TTL is still restorable.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Restore(ctx context.Context, sessionID string) (Snapshot, bool, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}
