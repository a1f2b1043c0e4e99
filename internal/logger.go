package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	slogmulti "github.com/samber/slog-multi"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

var (
	logMu    sync.RWMutex
	logLevel = LogLevelInfo
	console  = newConsoleLogger(os.Stderr)
	logger   = slog.New(console)
)

func newConsoleLogger(w io.Writer) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "chatsync",
	})
	// level filtering happens in this package, the handler sees everything
	l.SetLevel(log.DebugLevel)
	return l
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	logMu.Lock()
	logLevel = level
	logMu.Unlock()
}

// SetVerbose enables verbose (debug) logging
func SetVerbose(verbose bool) {
	if verbose {
		SetLogLevel(LogLevelDebug)
	} else {
		SetLogLevel(LogLevelInfo)
	}
}

// ParseLogLevel converts a config string into a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "", "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// SetLogOutput redirects console logging, mostly for tests.
func SetLogOutput(w io.Writer) {
	logMu.Lock()
	console = newConsoleLogger(w)
	logger = slog.New(console)
	logMu.Unlock()
}

// SetLogFile mirrors every log record as JSON into path, in addition to the
// console. The returned cleanup closes the file and restores console-only
// logging.
func SetLogFile(path string) (func() error, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, &StorageError{Backend: "log", Op: "open", Key: path, Err: err}
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})

	logMu.Lock()
	logger = slog.New(slogmulti.Fanout(console, fileHandler))
	logMu.Unlock()

	return func() error {
		logMu.Lock()
		logger = slog.New(console)
		logMu.Unlock()
		return file.Close()
	}, nil
}

func logAt(level LogLevel, slevel slog.Level, format string, args ...interface{}) {
	logMu.RLock()
	enabled := logLevel >= level
	l := logger
	logMu.RUnlock()
	if !enabled {
		return
	}
	l.Log(context.Background(), slevel, fmt.Sprintf(format, args...))
}

// LogError logs an error message
func LogError(format string, args ...interface{}) {
	logAt(LogLevelError, slog.LevelError, format, args...)
}

// LogWarn logs a warning message
func LogWarn(format string, args ...interface{}) {
	logAt(LogLevelWarn, slog.LevelWarn, format, args...)
}

// LogInfo logs an info message
func LogInfo(format string, args ...interface{}) {
	logAt(LogLevelInfo, slog.LevelInfo, format, args...)
}

// LogDebug logs a debug message
func LogDebug(format string, args ...interface{}) {
	logAt(LogLevelDebug, slog.LevelDebug, format, args...)
}

// SafeGo runs fn in a goroutine and logs instead of crashing on panic.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogError("panic in %s: %v", name, r)
			}
		}()
		fn()
	}()
}
