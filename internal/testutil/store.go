package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/g960059/tapmon/internal/db"
	"github.com/g960059/tapmon/internal/prefs"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "tapmon-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

func NewJSONFile(t *testing.T) *prefs.JSONFile {
	t.Helper()
	f, err := prefs.OpenJSONFile(filepath.Join(t.TempDir(), "shared_preferences.json"))
	if err != nil {
		t.Fatalf("open prefs file: %v", err)
	}
	t.Cleanup(func() {
		_ = f.Close()
	})
	return f
}

// Backends returns one instance of every persistent backend, keyed by name,
// for tests that must hold across all of them.
func Backends(t *testing.T) map[string]prefs.Backend {
	t.Helper()
	store, _ := NewStore(t)
	return map[string]prefs.Backend{
		"memory": prefs.NewMemory(),
		"sqlite": store,
		"json":   NewJSONFile(t),
	}
}
