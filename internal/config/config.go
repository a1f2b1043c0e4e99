// Package config loads runtime settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iksnae/chatsync/internal"
)

// Backend names accepted by store.Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

const (
	DefaultDebounce     = 300 * time.Millisecond
	DefaultMaxDebounce  = time.Second
	DefaultHubAddr      = "127.0.0.1:7878"
	DefaultPersistEvery = 500 * time.Millisecond
)

// Config holds all configuration values.
type Config struct {
	DataDir     string        `yaml:"data_dir"`
	Backend     string        `yaml:"backend"`
	HubURL      string        `yaml:"hub_url"`
	HubAddr     string        `yaml:"hub_addr"`
	Debounce    time.Duration `yaml:"debounce"`
	MaxDebounce time.Duration `yaml:"max_debounce"`
	LogLevel    string        `yaml:"log_level"`
	LogFile     string        `yaml:"log_file"`
	ActorName   string        `yaml:"actor_name"`

	// PersistEvery saves a streaming answer this often so other processes
	// can follow it. Zero saves only the finished answer.
	PersistEvery time.Duration `yaml:"persist_every"`

	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OllamaHost      string `yaml:"ollama_host"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DataDir:      "~/.chatsync",
		Backend:      BackendFile,
		HubAddr:      DefaultHubAddr,
		Debounce:     DefaultDebounce,
		MaxDebounce:  DefaultMaxDebounce,
		PersistEvery: DefaultPersistEvery,
		LogLevel:     "info",
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chatsync", "config.yaml")
}

// Load applies defaults, then the YAML file at path, then the environment.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			internal.LogDebug("no config file at %s", path)
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, &internal.ParseError{Source: "config", Key: path, Err: err}
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.DataDir = ExpandHome(cfg.DataDir)
	cfg.LogFile = ExpandHome(cfg.LogFile)
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setEnv(&c.DataDir, "CHATSYNC_DATA_DIR")
	setEnv(&c.Backend, "CHATSYNC_BACKEND")
	setEnv(&c.HubURL, "CHATSYNC_HUB_URL")
	setEnv(&c.HubAddr, "CHATSYNC_HUB_ADDR")
	setEnv(&c.LogLevel, "CHATSYNC_LOG_LEVEL")
	setEnv(&c.LogFile, "CHATSYNC_LOG_FILE")
	setEnv(&c.ActorName, "CHATSYNC_ACTOR")
	setEnv(&c.OpenAIAPIKey, "OPENAI_API_KEY")
	setEnv(&c.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setEnv(&c.OllamaHost, "OLLAMA_HOST")
	if v := os.Getenv("CHATSYNC_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &internal.ParseError{Source: "config", Key: "CHATSYNC_DEBOUNCE", Err: err}
		}
		c.Debounce = d
	}
	if v := os.Getenv("CHATSYNC_PERSIST_EVERY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &internal.ParseError{Source: "config", Key: "CHATSYNC_PERSIST_EVERY", Err: err}
		}
		c.PersistEvery = d
	}
	return nil
}

// Validate checks values that would fail later in confusing ways.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q (want file, sqlite or memory)", c.Backend)
	}
	if c.Debounce < 0 || c.MaxDebounce < 0 {
		return errors.New("debounce must not be negative")
	}
	if c.PersistEvery < 0 {
		return errors.New("persist_every must not be negative")
	}
	if c.MaxDebounce > 0 && c.MaxDebounce < c.Debounce {
		return fmt.Errorf("max_debounce %s is shorter than debounce %s", c.MaxDebounce, c.Debounce)
	}
	if _, err := internal.ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func setEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
