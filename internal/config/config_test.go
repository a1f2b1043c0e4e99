package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iksnae/chatsync/internal"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CHATSYNC_DATA_DIR", "CHATSYNC_BACKEND", "CHATSYNC_HUB_URL", "CHATSYNC_HUB_ADDR",
		"CHATSYNC_DEBOUNCE", "CHATSYNC_LOG_LEVEL", "CHATSYNC_LOG_FILE", "CHATSYNC_ACTOR",
		"CHATSYNC_PERSIST_EVERY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "OLLAMA_HOST",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	home, _ := os.UserHomeDir()
	if want := filepath.Join(home, ".chatsync"); cfg.DataDir != want {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, want)
	}
	if cfg.Backend != BackendFile {
		t.Errorf("Backend = %q, want file", cfg.Backend)
	}
	if cfg.Debounce != 300*time.Millisecond || cfg.MaxDebounce != time.Second {
		t.Errorf("debounce = %s/%s, want 300ms/1s", cfg.Debounce, cfg.MaxDebounce)
	}
	if cfg.PersistEvery != DefaultPersistEvery {
		t.Errorf("PersistEvery = %s, want %s", cfg.PersistEvery, DefaultPersistEvery)
	}
}

func TestLoadPersistEvery(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "persist_every: 2s"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PersistEvery != 2*time.Second {
		t.Errorf("PersistEvery from file = %s, want 2s", cfg.PersistEvery)
	}

	t.Setenv("CHATSYNC_PERSIST_EVERY", "0s")
	cfg, err = Load(writeConfig(t, "persist_every: 2s"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PersistEvery != 0 {
		t.Errorf("PersistEvery from env = %s, want 0", cfg.PersistEvery)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
data_dir: /srv/chats
backend: sqlite
debounce: 50ms
max_debounce: 500ms
log_level: debug
openai_api_key: from-file
`)
	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("CHATSYNC_HUB_URL", "ws://localhost:7878/ws")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"data dir", cfg.DataDir, "/srv/chats"},
		{"backend", cfg.Backend, BackendSQLite},
		{"debounce", cfg.Debounce, 50 * time.Millisecond},
		{"max debounce", cfg.MaxDebounce, 500 * time.Millisecond},
		{"log level", cfg.LogLevel, "debug"},
		{"env beats file", cfg.OpenAIAPIKey, "from-env"},
		{"env only", cfg.HubURL, "ws://localhost:7878/ws"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{"bad yaml", "backend: [", nil},
		{"unknown backend", "backend: postgres", nil},
		{"bad log level", "log_level: loud", nil},
		{"max below debounce", "debounce: 2s\nmax_debounce: 1s", nil},
		{"bad env duration", "", map[string]string{"CHATSYNC_DEBOUNCE": "soon"}},
		{"bad persist interval", "", map[string]string{"CHATSYNC_PERSIST_EVERY": "often"}},
		{"negative persist interval", "persist_every: -1s", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestLoadParseErrorType(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "backend: ["))
	var pe *internal.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %T, want *internal.ParseError", err)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/data", filepath.Join(home, "data")},
		{"/abs", "/abs"},
		{"rel/~x", "rel/~x"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
