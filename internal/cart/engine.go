// Package cart reconciles the shopper's cart between the persistent guest
// store and the remote cart API, depending on whether a user is signed in.
package cart

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/semilia/storefront/internal/auth"
	"github.com/semilia/storefront/internal/domain"
	"github.com/semilia/storefront/internal/notify"
)

// Gateway is the remote cart API of a signed-in user.
type Gateway interface {
	Fetch(ctx context.Context) (*domain.Cart, error)
	Add(ctx context.Context, productID string, quantity int) error
	Remove(ctx context.Context, productID string) error
	UpdateQuantity(ctx context.Context, productID string, quantity int) error
	Clear(ctx context.Context) error
}

// GuestStore persists the cart of a guest. It never fails; see gueststore.Store.
type GuestStore interface {
	Read(ctx context.Context) *domain.Cart
	Write(ctx context.Context, cart *domain.Cart)
	Erase(ctx context.Context)
}

// IdentityProvider reports who is signed in.
type IdentityProvider interface {
	Identity() auth.Identity
}

// State is a consistent snapshot of the engine for consumers.
type State struct {
	Cart         *domain.Cart    `json:"cart"`
	ItemCount    int             `json:"itemCount"`
	Loading      bool            `json:"loading"`
	LoadingItems map[string]bool `json:"loadingItems"`
	Mode         domain.Mode     `json:"mode"`
	Syncing      bool            `json:"syncing"`
}

// Engine owns the in-memory cart of one shopper. All mutations go through
// its methods; consumers read State snapshots or Watch for changes.
type Engine struct {
	gateway  Gateway
	guest    GuestStore
	identity IdentityProvider
	notifier notify.Notifier
	logger   *slog.Logger

	fetches singleflight.Group
	guestMu sync.Mutex

	mu           sync.Mutex
	cart         *domain.Cart
	loaded       bool
	epoch        uint64
	gen          uint64
	busy         int
	syncing      bool
	loadingItems map[string]bool
	updates      map[string]*quantityUpdate
	watchers     map[chan State]struct{}
}

// New creates an engine with an empty cart. Call FetchCart to load it.
func New(gw Gateway, guest GuestStore, identity IdentityProvider, notifier notify.Notifier, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Engine{
		gateway:      gw,
		guest:        guest,
		identity:     identity,
		notifier:     notifier,
		logger:       logger,
		cart:         domain.NewCart(),
		loadingItems: make(map[string]bool),
		updates:      make(map[string]*quantityUpdate),
		watchers:     make(map[chan State]struct{}),
	}
}

// Mode returns where the cart currently lives.
func (e *Engine) Mode() domain.Mode {
	if e.identity != nil && e.identity.Identity().Authenticated() {
		return domain.ModeAuthenticated
	}
	return domain.ModeGuest
}

// State returns a snapshot that shares nothing with the engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// ItemCount returns the number of units in the cart.
func (e *Engine) ItemCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cart.ItemCount()
}

// IsItemLoading reports whether a quantity update for productID is in flight.
func (e *Engine) IsItemLoading(productID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadingItems[productID]
}

// Watch delivers a State after every change, starting with the current one.
// A slow reader only ever sees the latest state. The channel is closed when
// ctx ends.
func (e *Engine) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	e.mu.Lock()
	e.watchers[ch] = struct{}{}
	ch <- e.stateLocked()
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		delete(e.watchers, ch)
		close(ch)
		e.mu.Unlock()
	}()
	return ch
}

// OnIdentityChange reacts to sign-in and sign-out. Signing in moves a
// non-empty guest cart into the account; otherwise the cart of the new mode
// is loaded. Signing out reloads the guest store.
func (e *Engine) OnIdentityChange(ctx context.Context, prev, next auth.Identity) error {
	e.mu.Lock()
	e.epoch++
	e.gen++
	e.loaded = false
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "cart identity changed",
		slog.Bool("was_authenticated", prev.Authenticated()),
		slog.Bool("authenticated", next.Authenticated()),
	)

	if next.Authenticated() && !prev.Authenticated() && !e.guest.Read(ctx).IsEmpty() {
		return e.SyncCart(ctx)
	}
	return e.FetchCart(ctx)
}

func (e *Engine) stateLocked() State {
	return State{
		Cart:         e.cart.Clone(),
		ItemCount:    e.cart.ItemCount(),
		Loading:      e.busy > 0,
		LoadingItems: maps.Clone(e.loadingItems),
		Mode:         e.Mode(),
		Syncing:      e.syncing,
	}
}

// publishLocked hands the current state to every watcher, replacing any
// state the watcher has not read yet.
func (e *Engine) publishLocked() {
	if len(e.watchers) == 0 {
		return
	}
	st := e.stateLocked()
	for ch := range e.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

func (e *Engine) beginBusy() {
	e.mu.Lock()
	e.busy++
	e.publishLocked()
	e.mu.Unlock()
}

func (e *Engine) endBusy() {
	e.mu.Lock()
	e.busy--
	e.publishLocked()
	e.mu.Unlock()
}

// guardSync rejects a mutation while a sync runs.
func (e *Engine) guardSync() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncing {
		return ErrSyncInProgress
	}
	return nil
}

// setCart replaces the cart unless the identity changed since epoch.
func (e *Engine) setCart(cart *domain.Cart, epoch uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		return false
	}
	e.cart = cart
	e.loaded = true
	e.publishLocked()
	return true
}

// wrote records a call that may have changed the remote cart. Fetches that
// start afterwards never join a request that started before it.
func (e *Engine) wrote() {
	e.mu.Lock()
	e.gen++
	e.mu.Unlock()
}

// fetchKey names the shared fetch for the current identity and remote
// cart generation.
func (e *Engine) fetchKey() (epoch, gen uint64, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch, e.gen, fmt.Sprintf("fetch:%d:%d", e.epoch, e.gen)
}

// applyFetched makes a fetched cart current unless the identity changed or
// the remote cart was written since the fetch started. Quantity updates
// still in flight win over what the server returned.
func (e *Engine) applyFetched(cart *domain.Cart, epoch, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch || gen != e.gen {
		return
	}
	for id, u := range e.updates {
		cart.ApplyQuantity(id, u.latest)
	}
	e.cart = cart
	e.loaded = true
	e.publishLocked()
}

func (e *Engine) currentEpoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

// mutateGuest applies fn to a copy of the guest cart, persists the copy when
// fn reports a change and makes it current. Guest mutations run one at a time.
func (e *Engine) mutateGuest(ctx context.Context, fn func(c *domain.Cart) bool) {
	e.guestMu.Lock()
	defer e.guestMu.Unlock()

	epoch := e.currentEpoch()
	next := e.guestBase(ctx)
	if fn(next) {
		e.guest.Write(ctx, next)
	}
	e.setCart(next, epoch)
}

// guestBase returns a private copy of the guest cart to mutate, loading it
// from the store the first time.
func (e *Engine) guestBase(ctx context.Context) *domain.Cart {
	e.mu.Lock()
	if e.loaded {
		c := e.cart.Clone()
		e.mu.Unlock()
		return c
	}
	e.mu.Unlock()
	return e.guest.Read(ctx)
}

func (e *Engine) productName(productID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if it, ok := e.cart.Item(productID); ok && it.Product.Snapshot != nil {
		return it.Product.Snapshot.DisplayName()
	}
	return productID
}
