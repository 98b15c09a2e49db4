// Package observability provides structured logging and Prometheus metrics
// for the room command core.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/haasonsaas/parley/internal/config"
)

// NewLogger builds a slog.Logger from configuration.
//
// Level accepts "debug", "info", "warn", "error" (default info). Format is
// "json" for production or "text" for development.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerTo(cfg, os.Stdout)
}

// NewLoggerTo is NewLogger with an explicit output writer.
func NewLoggerTo(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
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
