package http

import (
	"log/slog"
	"net/http"

	"github.com/semilia/storefront/internal/auth"
	"github.com/semilia/storefront/internal/cart"
	"github.com/semilia/storefront/pkg/httputil"
	"github.com/semilia/storefront/pkg/validator"
)

// SessionHandler handles sign-in, sign-out and the notification inbox.
type SessionHandler struct {
	logger *slog.Logger
}

// NewSessionHandler creates a new session HTTP handler.
func NewSessionHandler(logger *slog.Logger) *SessionHandler {
	return &SessionHandler{logger: logger}
}

// LoginRequest carries the access token issued by the account service.
type LoginRequest struct {
	Token string `json:"token" validate:"required"`
}

// SessionResponse is the identity and cart after a session change.
type SessionResponse struct {
	Identity auth.Identity `json:"identity"`
	Cart     cart.State    `json:"cart"`
}

// Login handles POST /api/v1/session/login. A token that validates always
// signs the user in; a failed cart sync is reported in the notification inbox
// and leaves the unsent items in the guest store.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	sess := sessionFromContext(r.Context())
	id, err := sess.Auth.Login(r.Context(), req.Token)
	if !id.Authenticated() {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "cart transition after login failed",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
	}

	httputil.WriteData(w, http.StatusOK, SessionResponse{Identity: id, Cart: sess.Engine.State()})
}

// Logout handles POST /api/v1/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if err := sess.Auth.Logout(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "cart transition after logout failed",
			slog.String("error", err.Error()),
		)
	}
	httputil.WriteData(w, http.StatusOK, SessionResponse{Identity: sess.Auth.Identity(), Cart: sess.Engine.State()})
}

// Notifications handles GET /api/v1/notifications. Reading empties the inbox.
func (h *SessionHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	httputil.WriteData(w, http.StatusOK, sess.Inbox.Drain())
}
