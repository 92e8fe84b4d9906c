package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger.
// Stdout carries the native-messaging protocol, so w must never be os.Stdout;
// a nil w means stderr. Invalid levels fall back to INFO, unknown formats to JSON.
func Setup(level, format string, w io.Writer) {
	once.Do(func() {
		if w == nil {
			w = os.Stderr
		}
		opts := &slog.HandlerOptions{
			Level: ParseLevel(level),
		}
		var handler slog.Handler
		if strings.EqualFold(format, "text") {
			handler = slog.NewTextHandler(w, opts)
		} else {
			handler = slog.NewJSONHandler(w, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// ParseLevel maps a level name to a slog level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO", "json", nil)
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithSession returns a logger with the session_id field set.
// Session ids are opaque JSON scalars chosen by the extension.
func WithSession(id any) *slog.Logger {
	return Get().With(slog.Any("session_id", id))
}
