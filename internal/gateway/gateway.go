package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/semilia/storefront/internal/domain"
	apperrors "github.com/semilia/storefront/pkg/errors"
	"github.com/semilia/storefront/pkg/httpclient"
)

const (
	serviceName = "cart-api"
	tracerName  = "github.com/semilia/storefront/internal/gateway"
)

// TokenSource supplies the bearer token of the signed-in user. An empty token
// sends the request unauthenticated.
type TokenSource interface {
	Token() string
}

// Client talks to the remote cart API:
//
//	GET    /cart              fetch
//	POST   /cart              add {productId, quantity}
//	DELETE /cart/{productId}  remove
//	PATCH  /cart/{productId}  update {quantity}
//	DELETE /cart/clear        clear
type Client struct {
	http    *httpclient.CircuitBreakerClient
	baseURL string
	tokens  TokenSource
	logger  *slog.Logger
}

// New creates a cart API client rooted at baseURL.
func New(baseURL string, cb *httpclient.CircuitBreakerClient, logger *slog.Logger) *Client {
	return &Client{
		http:    cb,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// WithTokenSource returns a copy of c that authenticates every call with the
// token from ts. The copy shares the circuit breaker.
func (c *Client) WithTokenSource(ts TokenSource) *Client {
	cpy := *c
	cpy.tokens = ts
	return &cpy
}

type addRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type updateRequest struct {
	Quantity int `json:"quantity"`
}

// cartBody accepts both a bare cart and one wrapped in a {"data": ...} envelope.
type cartBody struct {
	domain.Cart
	Data *domain.Cart `json:"data"`
}

// Fetch returns the authoritative cart.
func (c *Client) Fetch(ctx context.Context) (*domain.Cart, error) {
	resp, err := c.call(ctx, http.MethodGet, "/cart", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body cartBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode cart response: %w", err)
	}
	cart := &body.Cart
	if body.Data != nil {
		cart = body.Data
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return cart, nil
}

// Add adds quantity units of productID to the remote cart.
func (c *Client) Add(ctx context.Context, productID string, quantity int) error {
	return c.send(ctx, http.MethodPost, "/cart", addRequest{ProductID: productID, Quantity: quantity})
}

// Remove deletes the line for productID.
func (c *Client) Remove(ctx context.Context, productID string) error {
	return c.send(ctx, http.MethodDelete, "/cart/"+url.PathEscape(productID), nil)
}

// UpdateQuantity sets the quantity of productID.
func (c *Client) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	return c.send(ctx, http.MethodPatch, "/cart/"+url.PathEscape(productID), updateRequest{Quantity: quantity})
}

// Clear empties the remote cart.
func (c *Client) Clear(ctx context.Context) error {
	return c.send(ctx, http.MethodDelete, "/cart/clear", nil)
}

// Ping reports the API as unavailable while the circuit is open.
func (c *Client) Ping(_ context.Context) error {
	if c.http.State() == gobreaker.StateOpen {
		return apperrors.Unavailable(serviceName+" circuit open", httpclient.ErrCircuitOpen)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload any) error {
	resp, err := c.call(ctx, method, path, payload)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return resp.Body.Close()
}

// call performs one request and returns the response only for 2xx statuses.
func (c *Client) call(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body []byte
	contentType := ""
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("marshal %s %s request: %w", method, path, err)
		}
		contentType = "application/json"
	}

	target := c.baseURL + path
	ctx, span := otel.Tracer(tracerName).Start(ctx, serviceName+" "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPMethod(method),
			semconv.HTTPURL(target),
		),
	)
	defer span.End()

	resp, err := c.http.Send(ctx, method, target, contentType, body, c.decorate(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.ErrorContext(ctx, "cart api call failed",
			slog.String("breaker", c.http.Name()),
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%s %s: %w", method, path, httpclient.ClassifyTransportError(err, serviceName))
	}
	span.SetAttributes(semconv.HTTPStatusCode(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		err := httpclient.ParseResponseError(resp, serviceName)
		c.logger.WarnContext(ctx, "cart api rejected request",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) decorate(ctx context.Context) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Accept", "application/json")
		if c.tokens != nil {
			if tok := c.tokens.Token(); tok != "" {
				req.Header.Set("Authorization", "Bearer "+tok)
			}
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	}
}
