// Package logger provides structured logging setup for relay.
package logger

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the level and output format.
type Config struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // "json" or "console"
	Service string `yaml:"service"`
}

// New creates a zerolog.Logger writing to w. Output is JSON unless Format
// is "console", with a "service" field on every record.
func New(cfg Config, w io.Writer) zerolog.Logger {
	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Stamp}
	}
	l := zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.Service != "" {
		l = l.Str("service", cfg.Service)
	}
	return l.Logger()
}

// parseLevel converts a string log level to a zerolog.Level.
func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// requestIDKey is the context key for the request ID.
var requestIDKey = contextKey{}

// WithRequestID stores id in ctx and attaches a child of the context logger
// carrying it as "request_id".
func WithRequestID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, id)
	l := zerolog.Ctx(ctx).With().Str("request_id", id).Logger()
	return l.WithContext(ctx)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
