// Package testutil provides shared test helpers for setting up content
// roots, stores, and databases.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/holt/lattice/internal/backend"
	"github.com/holt/lattice/internal/index"
	"github.com/holt/lattice/internal/store"
)

// TestDB creates a temporary SQLite index that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "lattice-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestProject creates a temporary content directory with an FS adapter.
func TestProject(t *testing.T) (string, backend.Adapter) {
	t.Helper()
	root := t.TempDir()
	adapter, err := backend.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, adapter
}

// TestStore creates a loaded store over an in-memory backend seeded with
// a "root" container. Logs are discarded.
func TestStore(t *testing.T) (*store.Store, *backend.Memory) {
	t.Helper()
	mem := backend.NewMemory()
	mem.SeedDir("root")
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	st := store.New(mem, "", logger)
	if err := st.LoadAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	return st, mem
}
