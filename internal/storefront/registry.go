// Package storefront hosts one cart engine per storefront session, so a
// single server can back many browsers.
package storefront

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semilia/storefront/internal/auth"
	"github.com/semilia/storefront/internal/cart"
	"github.com/semilia/storefront/internal/gateway"
	"github.com/semilia/storefront/internal/gueststore"
	"github.com/semilia/storefront/internal/notify"
	apperrors "github.com/semilia/storefront/pkg/errors"
)

// Session is the cart state of one storefront visitor.
type Session struct {
	ID     string
	Auth   *auth.Session
	Engine *cart.Engine
	Inbox  *notify.Inbox
	Guest  *gueststore.Store

	loadOnce sync.Once
	lastSeen time.Time
}

// Options configures a Registry.
type Options struct {
	// IdleTTL evicts sessions not seen for this long. Zero keeps them forever.
	IdleTTL time.Duration
	// InboxSize bounds the notifications kept per session.
	InboxSize int
	// Notifier receives every notification in addition to the session inbox.
	Notifier notify.Notifier
}

// Registry creates sessions on first use and evicts idle ones. The guest
// cart of a session lives in the shared backend under the session id, so it
// outlives eviction.
type Registry struct {
	backend gueststore.Backend
	gateway *gateway.Client
	tokens  auth.TokenValidator
	opts    Options
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(backend gueststore.Backend, gw *gateway.Client, tokens auth.TokenValidator, opts Options, logger *slog.Logger) *Registry {
	if opts.InboxSize <= 0 {
		opts.InboxSize = notify.DefaultInboxSize
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	return &Registry{
		backend:  backend,
		gateway:  gw,
		tokens:   tokens,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// NewSessionID returns a fresh session id.
func NewSessionID() string {
	return uuid.NewString()
}

// Open returns the session for id, creating it when unknown. An empty id
// opens a new session. Ids must be UUIDs. The cart of a new session is
// loaded before Open returns.
func (r *Registry) Open(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = NewSessionID()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.InvalidInput("session id must be a UUID")
	}

	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		s = r.newSession(id)
		r.sessions[id] = s
		r.logger.DebugContext(ctx, "storefront session opened", slog.String("session_id", id))
	}
	s.lastSeen = r.now()
	r.mu.Unlock()

	s.loadOnce.Do(func() {
		if err := s.Engine.FetchCart(ctx); err != nil {
			r.logger.WarnContext(ctx, "initial cart load failed",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		}
	})
	return s, nil
}

func (r *Registry) newSession(id string) *Session {
	logger := r.logger.With(slog.String("session_id", id))
	session := auth.NewSession(r.tokens)
	store := gueststore.New(r.backend, logger, gueststore.WithNamespace(id))
	inbox := notify.NewInbox(r.opts.InboxSize)

	engine := cart.New(
		r.gateway.WithTokenSource(session),
		store,
		session,
		notify.Multi{inbox, r.opts.Notifier},
		logger,
	)
	session.AddObserver(engine)

	return &Session{ID: id, Auth: session, Engine: engine, Inbox: inbox, Guest: store}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict drops sessions idle for longer than the configured TTL and returns
// how many were dropped.
func (r *Registry) Evict(ctx context.Context) int {
	if r.opts.IdleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.opts.IdleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "evicted idle storefront sessions",
			slog.Int("evicted", n),
			slog.Int("remaining", len(r.sessions)),
		)
	}
	return n
}

// Run evicts idle sessions periodically until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if r.opts.IdleTTL <= 0 {
		return
	}
	interval := r.opts.IdleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict(ctx)
		}
	}
}
