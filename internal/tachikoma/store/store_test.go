package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "tachikoma.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	var n int
	err := s.DB().QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n)
	if err != nil {
		t.Fatalf("schema_migrations missing: %v", err)
	}
	if n == 0 {
		t.Error("no migrations recorded")
	}
}

func TestNew_IsIdempotentAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tachikoma.db")

	s1, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := New(path)
	if err != nil {
		t.Fatalf("reopening an already-migrated database failed: %v", err)
	}
	s2.Close()
}

func TestConfig_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetConfig(ctx, "model.active", "m1"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetConfig(ctx, "model.active")
	if err != nil || got != "m1" {
		t.Fatalf("GetConfig = %q, %v", got, err)
	}

	// Upsert overwrites.
	if err := s.SetConfig(ctx, "model.active", "m2"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetConfig(ctx, "model.active")
	if got != "m2" {
		t.Errorf("after upsert GetConfig = %q", got)
	}
}

func TestConfig_MissingKey(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetConfig(context.Background(), "does.not.exist")
	if !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("expected config.ErrNotFound, got %v", err)
	}
}

func TestAudit_WriteAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.WriteAudit(ctx, "t_1", "@motoko:example.org", "model.set", "m1", "ok", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteAudit(ctx, "t_2", "@intruder:example.org", "model.set", "m2", "denied", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteAudit(ctx, "t_3", "@motoko:example.org", "memory.depth.set", "-1", "error", "must be positive"); err != nil {
		t.Fatal(err)
	}

	entries, err := s.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	// Newest first.
	if entries[0].TraceID != "t_3" || entries[2].TraceID != "t_1" {
		t.Errorf("wrong order: %s ... %s", entries[0].TraceID, entries[2].TraceID)
	}

	e := entries[0]
	if e.Result != "error" || !e.ErrorMessage.Valid || e.ErrorMessage.String != "must be positive" {
		t.Errorf("error entry mangled: %+v", e)
	}
	if !e.Target.Valid || e.Target.String != "-1" {
		t.Errorf("target mangled: %+v", e.Target)
	}
}

func TestAudit_RecentRespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.WriteAudit(ctx, "", "@a:b", "ping", "", "ok", ""); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := s.RecentAudit(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}
}

// The store must satisfy config.Persister so the runtime can write through.
var _ config.Persister = (*Store)(nil)
