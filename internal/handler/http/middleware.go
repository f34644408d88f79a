package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/semilia/storefront/internal/storefront"
	"github.com/semilia/storefront/pkg/httputil"
	"github.com/semilia/storefront/pkg/logger"
	"github.com/semilia/storefront/pkg/middleware"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

const sessionKey contextKey = "storefront_session"

// SessionFromHeader resolves the X-Session-ID header to a storefront session,
// opening a new one when the header is absent. The session id is echoed in
// the response so the browser can keep it.
func SessionFromHeader(registry *storefront.Registry, base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess, err := registry.Open(ctx, r.Header.Get(middleware.SessionHeader))
			if err != nil {
				httputil.WriteError(w, r, err, base)
				return
			}

			ctx = logger.WithSessionID(ctx, sess.ID)
			if id := sess.Auth.Identity(); id.Authenticated() {
				ctx = logger.WithUserID(ctx, id.UserID)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			ctx = context.WithValue(ctx, sessionKey, sess)

			w.Header().Set(middleware.SessionHeader, sess.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// sessionFromContext returns the session resolved by SessionFromHeader.
func sessionFromContext(ctx context.Context) *storefront.Session {
	sess, _ := ctx.Value(sessionKey).(*storefront.Session)
	return sess
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:    "UNSUPPORTED_MEDIA_TYPE",
						Message: "Content-Type must be application/json",
					},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
