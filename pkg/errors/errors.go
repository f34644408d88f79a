// Package errors defines the error kinds shared by the storefront: a handful
// of sentinels, each bound to a wire code and an HTTP status, and AppError,
// which carries a kind together with a message safe to show a shopper.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Match them with errors.Is.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrGone            = errors.New("gone")
	ErrTooManyRequests = errors.New("too many requests")
	ErrServiceUnavail  = errors.New("service unavailable")
)

type kind struct {
	sentinel error
	code     string
	status   int
}

// kinds is ordered: HTTPStatus reports the first sentinel an error matches.
var kinds = []kind{
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrConflict, "CONFLICT", http.StatusConflict},
	{ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest},
	{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
	{ErrForbidden, "FORBIDDEN", http.StatusForbidden},
	{ErrGone, "GONE", http.StatusGone},
	{ErrTooManyRequests, "RATE_LIMITED", http.StatusTooManyRequests},
	{ErrServiceUnavail, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable},
}

// AppError is an error with a wire code, an HTTP status and a message meant
// for the caller. Err holds the sentinel, possibly wrapping a cause.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// New builds an AppError of the given sentinel's kind. An unknown sentinel
// yields a 500.
func New(sentinel error, message string) *AppError {
	for _, k := range kinds {
		if k.sentinel == sentinel {
			return &AppError{Code: k.code, Message: message, Status: k.status, Err: sentinel}
		}
	}
	return &AppError{Code: "INTERNAL_ERROR", Message: message, Status: http.StatusInternalServerError, Err: sentinel}
}

// FromStatus builds the AppError matching an HTTP status answered by a
// downstream API. 422 maps to invalid input. It returns nil for statuses
// with no kind, including every 5xx other than 503.
func FromStatus(status int, message string) *AppError {
	if status == http.StatusUnprocessableEntity {
		return New(ErrInvalidInput, message)
	}
	for _, k := range kinds {
		if k.status == status {
			return New(k.sentinel, message)
		}
	}
	return nil
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return New(ErrNotFound, fmt.Sprintf("%s with id %s not found", resource, id))
}

func InvalidInput(message string) *AppError { return New(ErrInvalidInput, message) }

func Unauthorized(message string) *AppError { return New(ErrUnauthorized, message) }

func Conflict(message string) *AppError { return New(ErrConflict, message) }

// Unavailable reports a dependency that cannot be reached; cause, when
// non-nil, stays reachable through errors.Is.
func Unavailable(message string, cause error) *AppError {
	e := New(ErrServiceUnavail, message)
	if cause != nil {
		e.Err = fmt.Errorf("%w: %w", ErrServiceUnavail, cause)
	}
	return e
}

// HTTPStatus returns the status for err: the AppError's own status, else the
// status of the first matching sentinel, else 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// Code returns the wire code for err, defaulting to INTERNAL_ERROR.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.code
		}
	}
	return "INTERNAL_ERROR"
}
