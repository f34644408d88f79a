package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/semilia/storefront/pkg/errors"
	"github.com/semilia/storefront/pkg/logger"
	"github.com/semilia/storefront/pkg/validator"
)

// Response is the JSON envelope returned by the storefront API.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse represents an error in the standard response format.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData wraps v in the data envelope.
func WriteData(w http.ResponseWriter, status int, v any) {
	WriteJSON(w, status, Response{Data: v})
}

// WriteError answers with the error envelope for err. Server-side failures
// are logged through the request logger, or fallback when the request has
// none.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	status, body := describe(err)
	body.RequestID = logger.CorrelationIDFromContext(r.Context())

	if status >= http.StatusInternalServerError {
		l := logger.FromContext(r.Context())
		if l == slog.Default() && fallback != nil {
			l = fallback
		}
		level := slog.LevelWarn
		if status == http.StatusInternalServerError {
			level = slog.LevelError
		}
		l.Log(r.Context(), level, "request failed",
			slog.String("code", body.Code),
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}
	WriteJSON(w, status, Response{Error: &body})
}

// WriteValidationError answers 400 for a body that failed decoding or
// validation.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if !errors.As(err, &valErr) {
		err = apperrors.InvalidInput(err.Error())
	}
	_, body := describe(err)
	WriteJSON(w, http.StatusBadRequest, Response{Error: &body})
}

// sentinelMessages replaces err.Error() for kinds whose text could leak
// internals. Input and conflict errors are shown as is.
var sentinelMessages = map[error]string{
	apperrors.ErrNotFound:       "resource not found",
	apperrors.ErrUnauthorized:   "authentication required",
	apperrors.ErrServiceUnavail: "cart service unavailable",
}

// describe maps err to a status and an envelope without request id.
func describe(err error) (int, ErrorResponse) {
	var valErr *validator.ValidationError
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "request validation failed",
			Fields:  valErr.Fields(),
		}
	case errors.As(err, &appErr):
		return appErr.Status, ErrorResponse{Code: appErr.Code, Message: appErr.Message}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Code: "TIMEOUT", Message: "request timed out"}
	}

	status, code := apperrors.HTTPStatus(err), apperrors.Code(err)
	if status == http.StatusInternalServerError {
		return status, ErrorResponse{Code: code, Message: "an internal error occurred"}
	}
	msg := err.Error()
	for sentinel, m := range sentinelMessages {
		if errors.Is(err, sentinel) {
			msg = m
		}
	}
	return status, ErrorResponse{Code: code, Message: msg}
}
