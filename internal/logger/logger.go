// Package logger provides structured logging setup for vocab-agent.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"vocab-agent/internal/config"
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record.
func New(cfg config.Logging) *slog.Logger {
	return NewWithWriter(os.Stdout, cfg)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, cfg config.Logging) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	return slog.New(handler).With("service", cfg.Service)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

type contextKey struct{}

var correlationIDKey = contextKey{}

// WithCorrelationID stores the request correlation id on ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// FromContext returns slog.Default() annotated with the correlation id, if any.
func FromContext(ctx context.Context) *slog.Logger {
	return With(ctx, slog.Default())
}

// With annotates l with the correlation id stored on ctx, if any.
func With(ctx context.Context, l *slog.Logger) *slog.Logger {
	if id := CorrelationID(ctx); id != "" {
		return l.With("correlation_id", id)
	}
	return l
}
