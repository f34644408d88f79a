// Package gatewaytest provides an in-process cart API for tests.
package gatewaytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/semilia/storefront/pkg/httputil"
)

type line struct {
	ProductID string
	Quantity  int
}

// Server is a fake cart API holding one cart. Prices come from a catalog
// set with SetPrice; unknown products cost 0.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	lines    []line
	prices   map[string]int64
	token    string
	failures map[string][]int
	requests []string
	hook     func(r *http.Request)
}

// NewServer starts a fake cart API that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{prices: make(map[string]int64), failures: make(map[string][]int)}

	r := chi.NewRouter()
	r.Use(s.intercept)
	r.Get("/cart", s.handleFetch)
	r.Post("/cart", s.handleAdd)
	r.Delete("/cart/clear", s.handleClear)
	r.Delete("/cart/{productID}", s.handleRemove)
	r.Patch("/cart/{productID}", s.handleUpdate)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// SetPrice sets the catalog price of productID.
func (s *Server) SetPrice(productID string, price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[productID] = price
}

// Seed replaces the cart contents.
func (s *Server) Seed(productID string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lines {
		if s.lines[i].ProductID == productID {
			s.lines[i].Quantity = quantity
			return
		}
	}
	s.lines = append(s.lines, line{ProductID: productID, Quantity: quantity})
}

// RequireToken rejects requests without "Authorization: Bearer <token>".
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// FailNext makes the next request matching route ("PATCH /cart/p1") answer
// with status. Calls queue up.
func (s *Server) FailNext(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], status)
}

// OnRequest installs a hook run before each request is handled. It may block.
func (s *Server) OnRequest(fn func(r *http.Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// Requests returns the routes served so far, with request bodies for writes.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Quantity returns the server-side quantity of productID.
func (s *Server) Quantity(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if l.ProductID == productID {
			return l.Quantity
		}
	}
	return 0
}

// Len returns the number of lines in the server cart.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		hook := s.hook
		s.mu.Unlock()
		if hook != nil {
			hook(r)
		}

		route := r.Method + " " + r.URL.Path
		s.mu.Lock()
		token := s.token
		var fail int
		if q := s.failures[route]; len(q) > 0 {
			fail, s.failures[route] = q[0], q[1:]
		}
		s.mu.Unlock()

		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: "missing or invalid token"},
			})
			return
		}
		if fail != 0 {
			s.record(route + " !" + fmt.Sprint(fail))
			httputil.WriteJSON(w, fail, httputil.Response{
				Error: &httputil.ErrorResponse{Code: strings.ReplaceAll(strings.ToUpper(http.StatusText(fail)), " ", "_"), Message: "injected failure"},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) record(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, entry)
}

type itemJSON struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	s.record("GET /cart")
	s.mu.Lock()
	items := make([]itemJSON, 0, len(s.lines))
	var total int64
	for _, l := range s.lines {
		price := s.prices[l.ProductID]
		items = append(items, itemJSON{Product: l.ProductID, Quantity: l.Quantity, Price: price})
		total += price * int64(l.Quantity)
	}
	s.mu.Unlock()

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "totalPrice": total})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID == "" || req.Quantity < 1 {
		httputil.WriteValidationError(w, fmt.Errorf("invalid add request"))
		return
	}
	s.record(fmt.Sprintf("POST /cart %s %d", req.ProductID, req.Quantity))

	s.mu.Lock()
	found := false
	for i := range s.lines {
		if s.lines[i].ProductID == req.ProductID {
			s.lines[i].Quantity += req.Quantity
			found = true
		}
	}
	if !found {
		s.lines = append(s.lines, line{ProductID: req.ProductID, Quantity: req.Quantity})
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	s.record("DELETE /cart/" + id)

	s.mu.Lock()
	kept := s.lines[:0]
	for _, l := range s.lines {
		if l.ProductID != id {
			kept = append(kept, l)
		}
	}
	s.lines = kept
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	s.record(fmt.Sprintf("PATCH /cart/%s %d", id, req.Quantity))

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lines {
		if s.lines[i].ProductID == id {
			s.lines[i].Quantity = req.Quantity
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusNotFound, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "NOT_FOUND", Message: "item not in cart"},
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.record("DELETE /cart/clear")
	s.mu.Lock()
	s.lines = nil
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
