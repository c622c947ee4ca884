package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

func TestNewCreatesSchemaAndReopens(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "chronicle.db")

	store, err := New(ctx, dbPath, 0)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if store.Path() != dbPath {
		// Path is normalized to absolute; the temp dir already is.
		t.Errorf("Path() = %q, want %q", store.Path(), dbPath)
	}
	seedRawActivity(t, store, "2026-03-01", "10:00", "standup")
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	// Reopening runs the idempotent schema and migrations again.
	reopened, err := New(ctx, dbPath, 0)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	activities, total, err := reopened.ListRawActivities(ctx, types.ActivityFilter{})
	if err != nil {
		t.Fatalf("list after reopen: %v", err)
	}
	if total != 1 || len(activities) != 1 {
		t.Fatalf("got %d activities (total %d), want 1", len(activities), total)
	}
	if activities[0].Details != "standup" {
		t.Errorf("details = %q, want %q", activities[0].Details, "standup")
	}
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, ":memory:", 0)
	if err != nil {
		t.Fatalf("create in-memory store: %v", err)
	}
	defer store.Close()

	seedRawActivity(t, store, "2026-03-01", "10:00", "standup")
	if _, total, err := store.ListRawActivities(ctx, types.ActivityFilter{}); err != nil || total != 1 {
		t.Fatalf("list = total %d, err %v; want 1, nil", total, err)
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestSchemaVersionRecorded(t *testing.T) {
	store := newTestStore(t)
	version, err := SchemaVersion(store.UnderlyingDB())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version < 3 {
		t.Errorf("schema version = %d, want >= 3", version)
	}
}

func TestGetRawActivityNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRawActivity(context.Background(), 12345)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
