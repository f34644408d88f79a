package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semilia/storefront/internal/domain"
	"github.com/semilia/storefront/internal/gateway/gatewaytest"
	apperrors "github.com/semilia/storefront/pkg/errors"
	"github.com/semilia/storefront/pkg/httpclient"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, baseURL string, retries int) *Client {
	t.Helper()
	hc := httpclient.New(httpclient.Config{
		Timeout:         2 * time.Second,
		MaxRetries:      retries,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    5 * time.Millisecond,
		MaxConnsPerHost: 4,
	})
	cbCfg := httpclient.DefaultCircuitBreakerConfig(t.Name())
	cbCfg.MinRequests = 3
	cb := httpclient.NewCircuitBreakerClient(hc, cbCfg, discardLogger())
	return New(baseURL, cb, discardLogger())
}

func TestClient_FetchDecodesServerCart(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	srv.SetPrice("p1", 1000)
	srv.Seed("p1", 3)
	c := newTestClient(t, srv.URL, 0)

	cart, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "p1", cart.Items[0].ProductID())
	assert.False(t, cart.Items[0].Product.IsInline())
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.Equal(t, int64(3000), cart.TotalPrice)
}

func TestClient_FetchEmptyCartHasItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalPrice":0}`))
	}))
	defer srv.Close()

	cart, err := newTestClient(t, srv.URL, 0).Fetch(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, cart.Items)
}

func TestClient_FetchDataEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"items":[{"product":{"id":"p9","price":700},"quantity":1}],"totalPrice":700}}`))
	}))
	defer srv.Close()

	cart, err := newTestClient(t, srv.URL, 0).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "p9", cart.Items[0].ProductID())
	assert.Equal(t, int64(700), cart.TotalPrice)
}

func TestClient_FetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 0).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode cart response")
}

func TestClient_Mutations(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	c := newTestClient(t, srv.URL+"/", 0)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, "p1", 2))
	require.NoError(t, c.Add(ctx, "p2", 1))
	require.NoError(t, c.UpdateQuantity(ctx, "p1", 5))
	require.NoError(t, c.Remove(ctx, "p2"))
	assert.Equal(t, 5, srv.Quantity("p1"))
	assert.Equal(t, 1, srv.Len())

	require.NoError(t, c.Clear(ctx))
	assert.Zero(t, srv.Len())

	assert.Equal(t, []string{
		"POST /cart p1 2",
		"POST /cart p2 1",
		"PATCH /cart/p1 5",
		"DELETE /cart/p2",
		"DELETE /cart/clear",
	}, srv.Requests())
}

func TestClient_EscapesProductID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv.URL, 0).Remove(context.Background(), "a b%c"))
	assert.Equal(t, "/cart/a%20b%25c", gotPath)
}

func TestClient_BearerToken(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	srv.RequireToken("tok-1")
	base := newTestClient(t, srv.URL, 0)
	ctx := context.Background()

	err := base.Add(ctx, "p1", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	authed := base.WithTokenSource(staticToken("tok-1"))
	require.NoError(t, authed.Add(ctx, "p1", 1))

	empty := base.WithTokenSource(staticToken(""))
	assert.ErrorIs(t, empty.Add(ctx, "p1", 1), apperrors.ErrUnauthorized)
}

func TestClient_ClientErrorsMapToAppErrors(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	c := newTestClient(t, srv.URL, 0)

	err := c.UpdateQuantity(context.Background(), "missing", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	srv.FailNext("POST /cart", http.StatusConflict)
	assert.ErrorIs(t, c.Add(context.Background(), "p1", 1), apperrors.ErrConflict)
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	srv.FailNext("PATCH /cart/p1", http.StatusInternalServerError)
	srv.Seed("p1", 1)
	c := newTestClient(t, srv.URL, 0)

	err := c.UpdateQuantity(context.Background(), "p1", 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Equal(t, 1, srv.Quantity("p1"))
}

func TestClient_NonIdempotentCallsAreNotRetried(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	srv.FailNext("POST /cart", http.StatusBadGateway)
	srv.FailNext("PATCH /cart/p1", http.StatusBadGateway)
	srv.Seed("p1", 1)
	c := newTestClient(t, srv.URL, 3)
	ctx := context.Background()

	assert.Error(t, c.Add(ctx, "p2", 1))
	assert.Error(t, c.UpdateQuantity(ctx, "p1", 2))
	assert.Zero(t, srv.Quantity("p2"))
	assert.Equal(t, 1, srv.Quantity("p1"))
	assert.Equal(t, []string{"POST /cart !502", "PATCH /cart/p1 !502"}, srv.Requests())
}

func TestClient_FetchIsRetried(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	srv.FailNext("GET /cart", http.StatusBadGateway)
	srv.Seed("p1", 2)
	c := newTestClient(t, srv.URL, 2)

	cart, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
	assert.Equal(t, []string{"GET /cart !502", "GET /cart"}, srv.Requests())
}

func TestClient_UnreachableAndCircuit(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, 0)
	ctx := context.Background()
	assert.NoError(t, c.Ping(ctx))

	for i := 0; i < 3; i++ {
		err := c.Clear(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	}

	assert.Equal(t, gobreaker.StateOpen, c.http.State())
	err := c.Clear(ctx)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.ErrorIs(t, err, httpclient.ErrCircuitOpen)
	assert.ErrorIs(t, c.Ping(ctx), apperrors.ErrServiceUnavail)
}

func TestClient_FetchedCartIsUsable(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	srv.SetPrice("p1", 250)
	srv.Seed("p1", 4)

	cart, err := newTestClient(t, srv.URL, 0).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, cart.ItemCount())
	it, ok := cart.Item("p1")
	require.True(t, ok)
	assert.Equal(t, domain.Reference("p1"), it.Product)
	assert.Equal(t, int64(250), it.Price)
}
