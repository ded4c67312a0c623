package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds the process logger: text output locally, JSON in production.
func New(level, env string) *slog.Logger {
	return newLogger(os.Stdout, level, env)
}

func newLogger(w io.Writer, level, env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
