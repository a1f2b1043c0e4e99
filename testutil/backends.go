package testutil

import (
	"testing"

	"github.com/iksnae/chatsync/internal/store"
)

// Backends returns one fresh instance of every storage backend, keyed by
// name, for running the same test against all of them.
func Backends(t *testing.T) map[string]store.Backend {
	t.Helper()
	file, err := store.NewSplitFileBackend(CreateTempDir(t))
	if err != nil {
		t.Fatalf("NewSplitFileBackend() error = %v", err)
	}
	sqlite, err := store.NewSQLiteBackend(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteBackend() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]store.Backend{
		"memory": store.NewMemoryBackend(),
		"file":   file,
		"sqlite": sqlite,
	}
}
