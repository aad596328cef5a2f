package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists snapshots in PostgreSQL so multiple relay
// processes can share continuity state. Key/value shape and TTL
// semantics match the in-memory store exactly.
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewPostgresStore(ctx context.Context, databaseURL string, ttl time.Duration) (*PostgresStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, ttl: ttl}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS relay_snapshots (
		session_id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`)
	if err != nil {
		return fmt.Errorf("init snapshot schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO relay_snapshots (session_id, thread_id, saved_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE SET thread_id = $2, saved_at = $3`,
		snap.SessionID, snap.ThreadID, now,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	// Opportunistic sweep, mirroring the in-memory store.
	_, err = s.pool.Exec(ctx,
		`DELETE FROM relay_snapshots WHERE saved_at < $1`,
		now.Add(-s.ttl),
	)
	if err != nil {
		return fmt.Errorf("evict expired snapshots: %w", err)
	}
	return nil
}

func (s *PostgresStore) Restore(ctx context.Context, sessionID string) (Snapshot, bool, error) {
	var snap Snapshot
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, thread_id, saved_at FROM relay_snapshots WHERE session_id = $1`,
		sessionID,
	).Scan(&snap.SessionID, &snap.ThreadID, &snap.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("restore snapshot: %w", err)
	}

	if time.Now().UTC().Sub(snap.SavedAt) > s.ttl {
		if _, err := s.pool.Exec(ctx, `DELETE FROM relay_snapshots WHERE session_id = $1`, sessionID); err != nil {
			return Snapshot{}, false, fmt.Errorf("evict expired snapshot: %w", err)
		}
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM relay_snapshots WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
