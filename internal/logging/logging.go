// Package logging configures the process-wide slog logger. Structured
// JSON output is meant for log collectors, text output for terminals.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init sets up the default slog logger. Call once at process start.
func Init(level string, json bool) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ForModule returns a logger tagged with the given module name.
func ForModule(name string) *slog.Logger {
	return slog.Default().With("module", name)
}
