package store

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrUnknownBackend is returned by Open for unsupported backend names.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Open creates a provider of the named kind rooted at dataDir.
//
//	file    split-file layout in dataDir
//	sqlite  dataDir/chatsync.db
//	memory  nothing persisted
func Open(kind, dataDir string, notifier Notifier) (*DocStore, error) {
	switch kind {
	case "", "file":
		return NewSplitFile(dataDir, notifier)
	case "sqlite":
		return NewSQLite(filepath.Join(dataDir, "chatsync.db"), notifier)
	case "memory":
		return NewMemory(notifier), nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: file, sqlite, memory)", ErrUnknownBackend, kind)
	}
}
