// Package logging provides structured logging utilities.
//
// The default text format is Maven-style, coloured when writing to a terminal:
// [LEVEL] [SYSTEM] [HH:MM:SS] message key=value
//
// Format "json" switches to slog's JSON handler for log shippers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mybillbook/reconciler/internal/infrastructure/config"
)

// NewLogger creates a structured logger based on config
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerTo(os.Stdout, cfg)
}

// NewLoggerTo is NewLogger with an explicit destination.
func NewLoggerTo(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(NewMavenHandler(w, opts))
}

// NewLoggerWithSystem creates a logger with a system prefix (e.g., "api", "reconcile", "matcher")
func NewLoggerWithSystem(cfg config.LoggingConfig, system string) *slog.Logger {
	return NewLogger(cfg).With("system", system)
}

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Discard returns a logger that drops everything. Used by tests and library defaults.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
