package gueststore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/semilia/storefront/internal/domain"
	apperrors "github.com/semilia/storefront/pkg/errors"
)

// Key is the fixed storage key of the guest cart.
const Key = "semilia_guest_cart"

// Backend is a durable key-value store. Get returns an error wrapping
// apperrors.ErrNotFound when the key is absent.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store persists one guest cart. Storage failures never reach the caller:
// reads degrade to an empty cart and failed writes are logged.
type Store struct {
	backend Backend
	key     string
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace stores the cart under "<ns>:semilia_guest_cart", so one
// backend can hold the carts of many storefront sessions.
func WithNamespace(ns string) Option {
	return func(s *Store) {
		if ns != "" {
			s.key = ns + ":" + Key
		}
	}
}

// New creates a guest store over backend.
func New(backend Backend, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{backend: backend, key: Key, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StorageKey returns the key the cart is stored under.
func (s *Store) StorageKey() string {
	return s.key
}

// Read returns the stored cart, or an empty cart when the key is absent,
// unreadable or malformed. A stored cart that breaks the cart invariants is
// repaired before it is returned.
func (s *Store) Read(ctx context.Context) *domain.Cart {
	data, err := s.backend.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.WarnContext(ctx, "guest cart read failed, using empty cart",
				slog.String("key", s.key),
				slog.String("error", err.Error()),
			)
		}
		return domain.NewCart()
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		s.logger.WarnContext(ctx, "guest cart is corrupt, using empty cart",
			slog.String("key", s.key),
			slog.String("error", err.Error()),
		)
		return domain.NewCart()
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	if cart.Sanitize() {
		s.logger.DebugContext(ctx, "guest cart repaired on read", slog.String("key", s.key))
	}
	return &cart
}

// Write stores cart under the fixed key. Failures are logged.
func (s *Store) Write(ctx context.Context, cart *domain.Cart) {
	if cart == nil {
		cart = domain.NewCart()
	}
	data, err := json.Marshal(cart)
	if err != nil {
		s.logger.ErrorContext(ctx, "guest cart encode failed",
			slog.String("key", s.key),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.backend.Set(ctx, s.key, data); err != nil {
		s.logger.ErrorContext(ctx, "guest cart write failed",
			slog.String("key", s.key),
			slog.Int("items", len(cart.Items)),
			slog.String("error", err.Error()),
		)
	}
}

// Erase removes the key. Erasing an absent key is not an error.
func (s *Store) Erase(ctx context.Context) {
	if err := s.backend.Delete(ctx, s.key); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		s.logger.ErrorContext(ctx, "guest cart erase failed",
			slog.String("key", s.key),
			slog.String("error", err.Error()),
		)
	}
}

// Ping checks the backend when it supports health checks.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
