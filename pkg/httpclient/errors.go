package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/semilia/storefront/pkg/errors"
)

// errorEnvelope is the {"error":{"code","message"}} body the cart API
// answers failures with.
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes a non-2xx response and returns the
// matching AppError. The downstream message is kept, prefixed with service.
// 5xx statuses other than 503 come back as plain errors carrying the status.
func ParseResponseError(resp *http.Response, service string) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", service, resp.StatusCode, err)
	}

	code, message := http.StatusText(resp.StatusCode), strings.TrimSpace(string(raw))
	var env errorEnvelope
	if json.Unmarshal(raw, &env) == nil && env.Error != nil {
		code, message = env.Error.Code, env.Error.Message
	}

	qualified := service + ": " + message
	if appErr := apperrors.FromStatus(resp.StatusCode, qualified); appErr != nil {
		return appErr
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s server error (%d/%s): %s", service, resp.StatusCode, code, message)
	}
	return &apperrors.AppError{Code: code, Message: qualified, Status: resp.StatusCode}
}

// ClassifyTransportError turns a call that produced no usable response into
// a service-unavailable AppError: an open breaker, a 5xx left after retries,
// or a network failure. Context errors and AppErrors pass through.
func ClassifyTransportError(err error, service string) error {
	var appErr *apperrors.AppError
	var srvErr *ServerError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.As(err, &appErr):
		return err
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrTooManyRequests):
		return apperrors.Unavailable(service+" temporarily unavailable", err)
	case errors.As(err, &srvErr):
		return apperrors.Unavailable(fmt.Sprintf("%s server error (%d)", service, srvErr.Status), err)
	default:
		return apperrors.Unavailable(service+" unreachable", err)
	}
}
