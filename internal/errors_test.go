package internal

import (
	"errors"
	"strings"
	"testing"
)

func TestStorageError(t *testing.T) {
	originalErr := errors.New("permission denied")
	err := &StorageError{
		Backend: "file",
		Op:      "write",
		Key:     "/data/index.yaml",
		Err:     originalErr,
	}

	errorMsg := err.Error()
	if !strings.Contains(errorMsg, "storage error") {
		t.Errorf("StorageError.Error() should contain 'storage error', got: %q", errorMsg)
	}
	if !strings.Contains(errorMsg, "/data/index.yaml") {
		t.Errorf("StorageError.Error() should contain key, got: %q", errorMsg)
	}
	if !errors.Is(err, originalErr) {
		t.Error("StorageError.Unwrap() should return original error")
	}
}

func TestParseError(t *testing.T) {
	originalErr := errors.New("invalid JSON")
	err := &ParseError{Source: "content", Key: "chat_1", Err: originalErr}

	errorMsg := err.Error()
	if !strings.Contains(errorMsg, "parse error") || !strings.Contains(errorMsg, "content") {
		t.Errorf("ParseError.Error() = %q", errorMsg)
	}
	if !errors.Is(err, originalErr) {
		t.Error("ParseError.Unwrap() should return original error")
	}
}

func TestReloadError(t *testing.T) {
	inner := &StorageError{Backend: "sqlite", Op: "read", Key: "chats", Err: errors.New("locked")}
	err := &ReloadError{Scope: "sidebar", Err: inner}

	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatal("ReloadError should unwrap to StorageError")
	}
	if se.Backend != "sqlite" {
		t.Errorf("Backend = %q, want sqlite", se.Backend)
	}
	if !strings.Contains(err.Error(), "sidebar") {
		t.Errorf("ReloadError.Error() = %q", err.Error())
	}
}

func TestGenerationError(t *testing.T) {
	originalErr := errors.New("rate limited")
	err := &GenerationError{ChatID: "abc", Err: originalErr}
	if !strings.Contains(err.Error(), "abc") {
		t.Errorf("GenerationError.Error() = %q", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("GenerationError.Unwrap() should return original error")
	}
}
