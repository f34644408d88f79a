// Package logger builds the storefront's slog loggers and carries request
// identity (correlation, session and user ids) through context.Context so
// every log line and published event can be tied back to one shopper.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type contextKey int

const (
	correlationIDKey contextKey = iota
	sessionIDKey
	userIDKey
	loggerKey
)

// idFields lists the context ids WithContext attaches, in output order.
var idFields = []struct {
	key  contextKey
	attr string
}{
	{correlationIDKey, "correlation_id"},
	{sessionIDKey, "session_id"},
	{userIDKey, "user_id"},
}

// ParseLevel maps a textual level to a slog.Level, defaulting to info.
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

// New returns the JSON logger the storefront server writes to stdout.
func New(service, level string) *slog.Logger {
	return NewWithWriter(service, level, os.Stdout)
}

// NewWithWriter returns a JSON logger writing to w. Debug level adds source
// positions.
func NewWithWriter(service, level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: lvl == slog.LevelDebug})
	return slog.New(h).With(slog.String("service", service))
}

// NewConsole returns a text logger for cartctl, whose output a person reads.
func NewConsole(service, level string, w io.Writer) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h).With(slog.String("service", service))
}

func withID(ctx context.Context, key contextKey, id string) context.Context {
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key contextKey) string {
	id, _ := ctx.Value(key).(string)
	return id
}

// WithCorrelationID stores the request's correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return withID(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string { return idFrom(ctx, correlationIDKey) }

// WithSessionID stores the storefront session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withID(ctx, sessionIDKey, id)
}

// SessionIDFromContext returns the storefront session id, or "".
func SessionIDFromContext(ctx context.Context) string { return idFrom(ctx, sessionIDKey) }

// WithUserID stores the signed-in user's id.
func WithUserID(ctx context.Context, id string) context.Context {
	return withID(ctx, userIDKey, id)
}

// UserIDFromContext returns the signed-in user's id, or "".
func UserIDFromContext(ctx context.Context) string { return idFrom(ctx, userIDKey) }

// NewContext stores l as the request-scoped logger.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the request-scoped logger, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithContext returns l annotated with the ids found in ctx and, when ctx
// carries a valid span, its trace and span ids.
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	var attrs []any
	for _, f := range idFields {
		if id := idFrom(ctx, f.key); id != "" {
			attrs = append(attrs, slog.String(f.attr, id))
		}
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
