package store

import (
	"context"
	"testing"
	"time"
)

func TestSaveAndRestore(t *testing.T) {
	s := NewInMemoryStore(30 * time.Minute)
	ctx := context.Background()

	if err := s.Save(ctx, Snapshot{SessionID: "CA1", ThreadID: "th-1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	snap, ok, err := s.Restore(ctx, "CA1")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !ok {
		t.Fatalf("Restore() ok = false, want true")
	}
	if snap.ThreadID != "th-1" || snap.SavedAt.IsZero() {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRestoreAbsent(t *testing.T) {
	s := NewInMemoryStore(30 * time.Minute)
	_, ok, err := s.Restore(context.Background(), "CA404")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if ok {
		t.Fatalf("Restore() ok = true for absent id")
	}
}

func TestSaveOverwritesLastWriteWins(t *testing.T) {
	s := NewInMemoryStore(30 * time.Minute)
	ctx := context.Background()
	_ = s.Save(ctx, Snapshot{SessionID: "CA1", ThreadID: "th-1"})
	_ = s.Save(ctx, Snapshot{SessionID: "CA1", ThreadID: "th-2"})

	snap, ok, _ := s.Restore(ctx, "CA1")
	if !ok || snap.ThreadID != "th-2" {
		t.Fatalf("snapshot = %+v, want thread th-2", snap)
	}
}

func TestRestoreAtExactTTLBoundaryIsInclusive(t *testing.T) {
	s := NewInMemoryStore(30 * time.Minute)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	_ = s.Save(ctx, Snapshot{SessionID: "CA1", ThreadID: "th-1"})

	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	if _, ok, _ := s.Restore(ctx, "CA1"); !ok {
		t.Fatalf("snapshot aged exactly 30:00 should still restore")
	}

	s.now = func() time.Time { return base.Add(30*time.Minute + time.Nanosecond) }
	if _, ok, _ := s.Restore(ctx, "CA1"); ok {
		t.Fatalf("snapshot older than TTL must not restore")
	}
	if s.Len() != 0 {
		t.Fatalf("expired snapshot should be evicted on Restore, len = %d", s.Len())
	}
}

func TestSaveEvictsExpiredEntriesOpportunistically(t *testing.T) {
	s := NewInMemoryStore(30 * time.Minute)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	_ = s.Save(ctx, Snapshot{SessionID: "old", ThreadID: "th-old"})

	s.now = func() time.Time { return base.Add(31 * time.Minute) }
	_ = s.Save(ctx, Snapshot{SessionID: "new", ThreadID: "th-new"})

	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1 after opportunistic eviction", s.Len())
	}
	if _, ok, _ := s.Restore(ctx, "old"); ok {
		t.Fatalf("expired snapshot should be gone")
	}
}

func TestDelete(t *testing.T) {
	s := NewInMemoryStore(30 * time.Minute)
	ctx := context.Background()
	_ = s.Save(ctx, Snapshot{SessionID: "CA1", ThreadID: "th-1"})
	if err := s.Delete(ctx, "CA1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := s.Restore(ctx, "CA1"); ok {
		t.Fatalf("snapshot should be deleted")
	}
}

func TestJanitorSweepsExpired(t *testing.T) {
	s := NewInMemoryStore(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = s.Save(ctx, Snapshot{SessionID: "CA1", ThreadID: "th-1"})
	s.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	if s.Len() != 0 {
		t.Fatalf("len = %d, want 0 after janitor sweep", s.Len())
	}
}
