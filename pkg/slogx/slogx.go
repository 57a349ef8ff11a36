package slogx

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Service string
	Version string
	Env     string    // e.g. "dev", "prod"
	Level   string    // e.g. "debug", "info", "warn", "error"
	Format  string    // e.g. "json", "text"
	Output  io.Writer // defaults to os.Stderr
}

// New returns a configured slog.Logger instance and installs it as the
// process default.
func New(cfg Config) *slog.Logger {
	var handler slog.Handler

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		AddSource: cfg.Env == "dev",
		Level:     ParseLevel(cfg.Level),
	}

	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler).With(
		"service", cfg.Service,
		"version", cfg.Version,
		"env", cfg.Env,
	)

	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a string to slog.Level, falling back to info.
func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
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
