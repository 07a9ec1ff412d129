// Package logging constructs the process-wide slog logger: colorized
// human-readable output for local development, JSON for everything else.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config selects the handler and minimum level.
type Config struct {
	// Level is the minimum level name (debug, info, warn, error).
	Level string

	// Pretty selects the colorized development handler.
	Pretty bool

	// Output defaults to stderr.
	Output io.Writer
}

// New builds a logger from cfg. It does not touch the slog default; the
// caller decides whether to install it process-wide.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level := parseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Pretty {
		handler = tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// Setup builds a logger from cfg and installs it as the slog default.
func Setup(cfg Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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
