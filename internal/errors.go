package internal

import "fmt"

// StorageError represents a failed read or write against a storage backend
type StorageError struct {
	Backend string // "file", "sqlite", "memory"
	Op      string // "read", "write", "delete", "open"
	Key     string // chat id, file path or table
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [%s]: %s %s: %v", e.Backend, e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ParseError represents errors decoding persisted documents
type ParseError struct {
	Source string // "index", "content", "settings", "config"
	Key    string // document key or file path
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error [%s] %s: %v", e.Source, e.Key, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ReloadError is reported when a reconciliation pass could not refresh a
// slice of view state.
type ReloadError struct {
	Scope string // "sidebar", "chat", "group", "settings", "migration"
	Err   error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("reload error [%s]: %v", e.Scope, e.Err)
}

func (e *ReloadError) Unwrap() error {
	return e.Err
}

// GenerationError wraps a provider failure for a chat
type GenerationError struct {
	ChatID string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation error [%s]: %v", e.ChatID, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
