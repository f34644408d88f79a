package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cartAPI is a stub cart API whose status can be switched mid-test.
type cartAPI struct {
	*httptest.Server
	status atomic.Int32
	hits   atomic.Int32
}

func newCartAPI(t *testing.T, status int) *cartAPI {
	t.Helper()
	api := &cartAPI{}
	api.status.Store(int32(status))
	api.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.hits.Add(1)
		w.WriteHeader(int(api.status.Load()))
		_, _ = w.Write([]byte(http.StatusText(int(api.status.Load()))))
	}))
	t.Cleanup(api.Close)
	return api
}

func newBreaker(t *testing.T, timeout time.Duration) *CircuitBreakerClient {
	t.Helper()
	cfg := CircuitBreakerConfig{
		Name:         t.Name(),
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      timeout,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
	client := New(Config{Timeout: 5 * time.Second, MaxConnsPerHost: 10})
	return NewCircuitBreakerClient(client, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fetch(cb *CircuitBreakerClient, url string) (*http.Response, error) {
	resp, err := cb.Send(context.Background(), http.MethodGet, url+"/cart", "", nil)
	if err == nil {
		_ = resp.Body.Close()
	}
	return resp, err
}

func trip(t *testing.T, cb *CircuitBreakerClient, url string) {
	t.Helper()
	for i := 0; i < 3; i++ {
		_, err := fetch(cb, url)
		require.Error(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("cart-api")
	assert.Equal(t, "cart-api", cfg.Name)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, uint32(5), cfg.MinRequests)
}

func TestCircuitBreaker_PassesThroughHealthyAnswers(t *testing.T) {
	api := newCartAPI(t, http.StatusOK)
	cb := newBreaker(t, time.Second)

	resp, err := fetch(cb, api.URL)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, t.Name(), cb.Name())
}

func TestCircuitBreaker_ServerErrorCarriesBody(t *testing.T) {
	api := newCartAPI(t, http.StatusBadGateway)
	cb := newBreaker(t, time.Second)

	_, err := fetch(cb, api.URL)

	var srvErr *ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, http.StatusBadGateway, srvErr.Status)
	assert.Equal(t, "Bad Gateway", srvErr.Body)
}

func TestCircuitBreaker_OpenRejectsWithoutCallingAPI(t *testing.T) {
	api := newCartAPI(t, http.StatusInternalServerError)
	cb := newBreaker(t, 5*time.Second)
	trip(t, cb, api.URL)
	before := api.hits.Load()

	for i := 0; i < 5; i++ {
		_, err := fetch(cb, api.URL)
		assert.ErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, before, api.hits.Load())
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	api := newCartAPI(t, http.StatusNotFound)
	cb := newBreaker(t, time.Second)

	for i := 0; i < 5; i++ {
		resp, err := fetch(cb, api.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	api := newCartAPI(t, http.StatusServiceUnavailable)
	cb := newBreaker(t, 100*time.Millisecond)
	trip(t, cb, api.URL)

	time.Sleep(150 * time.Millisecond)
	api.status.Store(http.StatusOK)

	resp, err := fetch(cb, api.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_SendAppliesDecorators(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	cb := newBreaker(t, time.Second)

	resp, err := cb.Send(context.Background(), http.MethodPatch, srv.URL+"/cart/p1", "application/json", []byte(`{"quantity":2}`),
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok") })
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCircuitBreaker_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	cb := newBreaker(t, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := cb.Send(ctx, http.MethodGet, srv.URL, "", nil)
	require.Error(t, err)
}
