package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Identity is the signed-in user. The zero value is a guest.
type Identity struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Authenticated reports whether the identity belongs to a signed-in user.
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// Observer is notified after the session's user changes.
type Observer interface {
	OnIdentityChange(ctx context.Context, prev, next Identity) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, prev, next Identity) error

func (f ObserverFunc) OnIdentityChange(ctx context.Context, prev, next Identity) error {
	return f(ctx, prev, next)
}

// TokenValidator turns an access token into an identity.
type TokenValidator interface {
	Validate(token string) (Identity, error)
}

// Session holds the current identity and access token of one storefront
// visitor. Identity transitions are serialized, and observers run after each
// transition in registration order.
type Session struct {
	validator TokenValidator

	transition sync.Mutex

	mu        sync.RWMutex
	identity  Identity
	token     string
	observers []Observer
}

// NewSession creates a guest session.
func NewSession(v TokenValidator) *Session {
	return &Session{validator: v}
}

// AddObserver registers o for identity changes.
func (s *Session) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Identity returns the current identity.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Token returns the current access token, empty for guests.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Login validates token and makes its user current. Observers are notified
// only when the user changes; refreshing the token of the same user is
// silent. Observer errors are returned joined, after the login took effect.
func (s *Session) Login(ctx context.Context, token string) (Identity, error) {
	id, err := s.validator.Validate(token)
	if err != nil {
		return Identity{}, err
	}

	s.transition.Lock()
	defer s.transition.Unlock()

	prev := s.swap(id, token)
	if prev.UserID == id.UserID {
		return id, nil
	}
	return id, s.notify(ctx, prev, id)
}

// Logout returns the session to guest mode.
func (s *Session) Logout(ctx context.Context) error {
	s.transition.Lock()
	defer s.transition.Unlock()

	prev := s.swap(Identity{}, "")
	if !prev.Authenticated() {
		return nil
	}
	return s.notify(ctx, prev, Identity{})
}

func (s *Session) swap(id Identity, token string) Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.identity
	s.identity = id
	s.token = token
	return prev
}

func (s *Session) notify(ctx context.Context, prev, next Identity) error {
	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()

	var errs []error
	for _, o := range observers {
		if err := o.OnIdentityChange(ctx, prev, next); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("identity change observers: %w", errors.Join(errs...))
	}
	return nil
}
