package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu          sync.RWMutex
	base        zerolog.Logger
	initialized bool
	logFile     *os.File
)

// Init configures the global JSON logger.
//
// Environment variables (optional):
//   - LOG_LEVEL: debug|info|warn|error (default: info)
//   - LOG_PRETTY: true|false (default: false)
//   - LOG_FILE: path of a file that receives a copy of every line (default: none)
func Init() {
	level := parseLevel(getenv("LOG_LEVEL", "info"))
	pretty := strings.EqualFold(getenv("LOG_PRETTY", "false"), "true")

	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	if path := os.Getenv("LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err == nil {
			logFile = f
			w = zerolog.MultiLevelWriter(w, f)
		}
	}

	base = zerolog.New(w).With().Timestamp().Logger().Level(level)
	initialized = true
}

// L returns the global logger. Call Init() once on startup.
func L() *zerolog.Logger {
	mu.RLock()
	ok := initialized
	mu.RUnlock()
	if !ok {
		Init()
	}
	mu.RLock()
	defer mu.RUnlock()
	l := base
	return &l
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return L().With().Str("component", name).Logger()
}

// Close releases the LOG_FILE handle, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "err":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
