// Package observability provides structured logging setup and trace-ID
// propagation so every log line and audit entry emitted while handling one
// message can be correlated.
package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// logLevel is the live level for the configured handler so it can be flipped
// at runtime (the admin debug toggle). baseLevel remembers what Setup chose.
var (
	logLevel  slog.LevelVar
	baseLevel slog.Level
)

// Setup configures the global slog logger according to the provided level and
// format strings (e.g. level="info", format="json").
func Setup(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	baseLevel = lvl
	logLevel.Set(lvl)

	opts := &slog.HandlerOptions{Level: &logLevel}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// SetDebug forces debug-level logging on, or restores the level Setup
// configured when off.
func SetDebug(on bool) {
	if on {
		logLevel.Set(slog.LevelDebug)
	} else {
		logLevel.Set(baseLevel)
	}
}

// DebugEnabled reports whether debug-level logging is currently active.
func DebugEnabled() bool {
	return logLevel.Level() <= slog.LevelDebug
}

// traceKey is the unexported context key holding the trace ID.
type traceKey struct{}

// NewTraceID generates a trace ID for one message-handling pass.
func NewTraceID() string {
	return "t_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceID extracts the trace ID from ctx, returning "" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger returns a child logger that includes the trace_id from ctx when set.
func Logger(ctx context.Context) *slog.Logger {
	id := TraceID(ctx)
	if id == "" {
		return slog.Default()
	}
	return slog.With("trace_id", id)
}
