package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/semilia/storefront/pkg/logger"
)

// Header names shared by the storefront API and its clients.
const (
	CorrelationHeader = "X-Correlation-ID"
	SessionHeader     = "X-Session-ID"
)

// RequestLogging logs HTTP requests with duration, status, and correlation ID.
// It also stores the caller's session id, when one is sent, in the context.
func RequestLogging(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := r.Header.Get(CorrelationHeader)
			if correlationID == "" {
				correlationID = uuid.NewString()
			}
			ctx := logger.WithCorrelationID(r.Context(), correlationID)
			if sid := r.Header.Get(SessionHeader); sid != "" {
				ctx = logger.WithSessionID(ctx, sid)
			}
			r = r.WithContext(ctx)

			w.Header().Set(CorrelationHeader, correlationID)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			if rec.status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			l.Log(ctx, level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", rec.bytes),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("correlation_id", correlationID),
				slog.String("session_id", logger.SessionIDFromContext(ctx)),
			)
		})
	}
}
