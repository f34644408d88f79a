package cart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/semilia/storefront/internal/auth"
	"github.com/semilia/storefront/internal/domain"
	"github.com/semilia/storefront/internal/gueststore"
	"github.com/semilia/storefront/internal/notify"
	apperrors "github.com/semilia/storefront/pkg/errors"
	"github.com/semilia/storefront/pkg/validator"
)

// --- Mock Gateway ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Fetch(ctx context.Context) (*domain.Cart, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Cart), args.Error(1)
}

func (m *mockGateway) Add(ctx context.Context, productID string, quantity int) error {
	return m.Called(ctx, productID, quantity).Error(0)
}

func (m *mockGateway) Remove(ctx context.Context, productID string) error {
	return m.Called(ctx, productID).Error(0)
}

func (m *mockGateway) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	return m.Called(ctx, productID, quantity).Error(0)
}

func (m *mockGateway) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// --- Test Helpers ---

type fakeIdentity struct {
	mu sync.Mutex
	id auth.Identity
}

func (f *fakeIdentity) Identity() auth.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *fakeIdentity) set(id auth.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = id
}

var shopper = auth.Identity{UserID: "user-1", Email: "shopper@example.com"}

type harness struct {
	engine  *Engine
	gw      *mockGateway
	store   *gueststore.Store
	backend *gueststore.Memory
	ids     *fakeIdentity
	inbox   *notify.Inbox
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, authenticated bool) *harness {
	t.Helper()
	h := &harness{
		gw:      new(mockGateway),
		backend: gueststore.NewMemory(),
		ids:     &fakeIdentity{},
		inbox:   notify.NewInbox(50),
	}
	if authenticated {
		h.ids.set(shopper)
	}
	h.store = gueststore.New(h.backend, newTestLogger())
	h.engine = New(h.gw, h.store, h.ids, h.inbox, newTestLogger())
	return h
}

func serverCart(lines ...domain.CartItem) *domain.Cart {
	c := &domain.Cart{Items: lines}
	c.Recalculate()
	return c
}

func ref(id string, qty int, price int64) domain.CartItem {
	return domain.CartItem{Product: domain.Reference(id), Quantity: qty, Price: price}
}

func linen() domain.Product {
	return domain.Product{ID: "p1", Name: "Linen Shirt", Price: 1000}
}

func boots() domain.Product {
	return domain.Product{ID: "p2", Name: "Ankle Boots", Price: 4500}
}

func lastNotification(t *testing.T, in *notify.Inbox) notify.Notification {
	t.Helper()
	all := in.Drain()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func assertTotalInvariant(t *testing.T, e *Engine) {
	t.Helper()
	st := e.State()
	assert.Equal(t, st.Cart.Subtotal(), st.Cart.TotalPrice)
}

// --- Guest mode ---

func TestFetchCart_GuestReadsStore(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	stored := domain.NewCart()
	stored.AddProduct(linen(), 2)
	h.store.Write(ctx, stored)

	require.NoError(t, h.engine.FetchCart(ctx))

	st := h.engine.State()
	assert.Equal(t, domain.ModeGuest, st.Mode)
	assert.Equal(t, stored, st.Cart)
	assert.False(t, st.Loading)
	h.gw.AssertNotCalled(t, "Fetch", mock.Anything)
}

func TestFetchCart_GuestCorruptStoreFallsBackToEmpty(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.backend.Set(context.Background(), gueststore.Key, []byte("{oops")))

	require.NoError(t, h.engine.FetchCart(context.Background()))
	assert.True(t, h.engine.State().Cart.IsEmpty())
}

func TestAddToCart_GuestScenarioA(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	require.NoError(t, h.engine.AddToCart(ctx, domain.Product{ID: "p1", Price: 1000}, 2))

	st := h.engine.State()
	require.Len(t, st.Cart.Items, 1)
	assert.Equal(t, 2, st.Cart.Items[0].Quantity)
	assert.Equal(t, int64(2000), st.Cart.TotalPrice)
	assert.Equal(t, st.Cart, h.store.Read(ctx))

	n := lastNotification(t, h.inbox)
	assert.Equal(t, notify.LevelSuccess, n.Level)
	assert.Equal(t, "p1", n.ProductID)
}

func TestAddToCart_GuestScenarioB(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.engine.AddToCart(ctx, linen(), 2))

	require.NoError(t, h.engine.AddToCart(ctx, linen(), 3))

	st := h.engine.State()
	require.Len(t, st.Cart.Items, 1)
	assert.Equal(t, 5, st.Cart.Items[0].Quantity)
	assert.Equal(t, int64(5000), st.Cart.TotalPrice)
	assert.Equal(t, 5, h.engine.ItemCount())
}

func TestAddToCart_GuestLoadsStoreBeforeFirstMutation(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	stored := domain.NewCart()
	stored.AddProduct(boots(), 1)
	h.store.Write(ctx, stored)

	require.NoError(t, h.engine.AddToCart(ctx, linen(), 1))

	assert.Len(t, h.engine.State().Cart.Items, 2)
	assert.Len(t, h.store.Read(ctx).Items, 2)
}

func TestAddToCart_GuestFillsSlug(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.engine.AddToCart(context.Background(), linen(), 1))

	it, ok := h.engine.State().Cart.Item("p1")
	require.True(t, ok)
	assert.Equal(t, "linen-shirt", it.Product.Snapshot.Slug)
}

func TestAddToCart_AccumulationLaw(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	sum := 0
	for _, q := range []int{1, 4, 2, 7} {
		require.NoError(t, h.engine.AddToCart(ctx, linen(), q))
		sum += q
		assertTotalInvariant(t, h.engine)
	}
	it, _ := h.engine.State().Cart.Item("p1")
	assert.Equal(t, sum, it.Quantity)
}

func TestAddToCart_RejectsInvalidInput(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	err := h.engine.AddToCart(ctx, linen(), 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	err = h.engine.AddToCart(ctx, domain.Product{Price: 100}, 1)
	var valErr *validator.ValidationError
	assert.ErrorAs(t, err, &valErr)

	err = h.engine.AddToCart(ctx, domain.Product{ID: "p1", Price: -5}, 1)
	assert.ErrorAs(t, err, &valErr)

	assert.True(t, h.engine.State().Cart.IsEmpty())
	assert.Zero(t, h.backend.Len())
	for _, n := range h.inbox.Drain() {
		assert.Equal(t, notify.LevelError, n.Level)
	}
}

func TestRemoveFromCart_Guest(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.engine.AddToCart(ctx, linen(), 2))
	require.NoError(t, h.engine.AddToCart(ctx, boots(), 1))

	require.NoError(t, h.engine.RemoveFromCart(ctx, "p1"))

	st := h.engine.State()
	require.Len(t, st.Cart.Items, 1)
	assert.Equal(t, "p2", st.Cart.Items[0].ProductID())
	assert.Equal(t, int64(4500), st.Cart.TotalPrice)
	assert.Equal(t, st.Cart, h.store.Read(ctx))
	n := lastNotification(t, h.inbox)
	assert.Contains(t, n.Message, "Linen Shirt")
}

func TestRemoveFromCart_AbsentIsNoop(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.engine.AddToCart(ctx, linen(), 1))
	before := h.engine.State().Cart

	require.NoError(t, h.engine.RemoveFromCart(ctx, "missing"))
	assert.Equal(t, before, h.engine.State().Cart)
}

func TestUpdateQuantity_Guest(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.engine.AddToCart(ctx, linen(), 1))
	require.NoError(t, h.engine.AddToCart(ctx, boots(), 1))

	require.NoError(t, h.engine.UpdateQuantity(ctx, "p1", 4))

	it, _ := h.engine.State().Cart.Item("p1")
	assert.Equal(t, 4, it.Quantity)
	assert.False(t, h.engine.IsItemLoading("p1"))
	assertTotalInvariant(t, h.engine)
	stored, _ := h.store.Read(ctx).Item("p1")
	assert.Equal(t, 4, stored.Quantity)
}

func TestUpdateQuantity_BelowOneEqualsRemove(t *testing.T) {
	for _, q := range []int{0, -3} {
		a := newHarness(t, false)
		b := newHarness(t, false)
		ctx := context.Background()
		for _, h := range []*harness{a, b} {
			require.NoError(t, h.engine.AddToCart(ctx, linen(), 2))
			require.NoError(t, h.engine.AddToCart(ctx, boots(), 1))
		}

		require.NoError(t, a.engine.UpdateQuantity(ctx, "p1", q))
		require.NoError(t, b.engine.RemoveFromCart(ctx, "p1"))

		assert.Equal(t, b.engine.State().Cart, a.engine.State().Cart)
		assert.Equal(t, b.store.Read(ctx), a.store.Read(ctx))
	}
}

func TestClearCart_GuestErasesStore(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.engine.AddToCart(ctx, linen(), 2))

	require.NoError(t, h.engine.ClearCart(ctx))

	assert.True(t, h.engine.State().Cart.IsEmpty())
	assert.Zero(t, h.backend.Len())
	assertTotalInvariant(t, h.engine)
}

// --- Authenticated mode ---

func TestFetchCart_AuthenticatedReplacesCart(t *testing.T) {
	h := newHarness(t, true)
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 3, 1000)), nil).Once()

	require.NoError(t, h.engine.FetchCart(context.Background()))

	st := h.engine.State()
	assert.Equal(t, domain.ModeAuthenticated, st.Mode)
	assert.Equal(t, 3, st.ItemCount)
	assert.Equal(t, int64(3000), st.Cart.TotalPrice)
	assert.False(t, st.Loading)
}

func TestFetchCart_AuthenticatedFailureResetsToEmpty(t *testing.T) {
	h := newHarness(t, true)
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 3, 1000)), nil).Once()
	require.NoError(t, h.engine.FetchCart(context.Background()))

	h.gw.On("Fetch", mock.Anything).Return(nil, apperrors.Unavailable("cart-api unreachable", nil)).Once()
	err := h.engine.FetchCart(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	st := h.engine.State()
	assert.True(t, st.Cart.IsEmpty())
	assert.False(t, st.Loading)
}

func TestAddToCart_AuthenticatedPostsThenRefetches(t *testing.T) {
	h := newHarness(t, true)
	h.gw.On("Add", mock.Anything, "p1", 2).Return(nil).Once()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 2, 1000)), nil).Once()

	require.NoError(t, h.engine.AddToCart(context.Background(), linen(), 2))

	h.gw.AssertExpectations(t)
	assert.Equal(t, 2, h.engine.ItemCount())
	assert.Zero(t, h.backend.Len(), "guest store untouched")
	assert.Equal(t, notify.LevelSuccess, lastNotification(t, h.inbox).Level)
}

// blockingFetch makes the next Fetch wait until release is closed.
func blockingFetch(h *harness, cart *domain.Cart) (started, release chan struct{}) {
	started = make(chan struct{}, 1)
	release = make(chan struct{})
	h.gw.On("Fetch", mock.Anything).Run(func(mock.Arguments) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}).Return(cart, nil).Once()
	return started, release
}

func TestAddToCart_RefetchDoesNotJoinEarlierFetch(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	started, release := blockingFetch(h, serverCart())
	h.gw.On("Add", mock.Anything, "p1", 1).Return(nil).Once()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 1, 1000)), nil).Once()

	done := make(chan error, 1)
	go func() { done <- h.engine.FetchCart(ctx) }()
	<-started

	require.NoError(t, h.engine.AddToCart(ctx, linen(), 1))
	it, ok := h.engine.State().Cart.Item("p1")
	require.True(t, ok)
	assert.Equal(t, 1, it.Quantity)

	close(release)
	require.NoError(t, <-done)

	st := h.engine.State()
	_, ok = st.Cart.Item("p1")
	assert.True(t, ok, "a fetch started before the add must not replace the cart")
	assert.EqualValues(t, 1000, st.Cart.TotalPrice)
	h.gw.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestFetchCart_CancelledCallerLeavesSharedFetch(t *testing.T) {
	h := newHarness(t, true)
	started, release := blockingFetch(h, serverCart(ref("p1", 2, 1000)))
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 2, 1000)), nil).Maybe()

	cctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- h.engine.FetchCart(cctx) }()
	<-started

	second := make(chan error, 1)
	go func() { second <- h.engine.FetchCart(context.Background()) }()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(release)
	require.NoError(t, <-second)
	it, ok := h.engine.State().Cart.Item("p1")
	require.True(t, ok)
	assert.Equal(t, 2, it.Quantity)
	assert.False(t, h.engine.State().Loading)
}

func TestAddToCart_AuthenticatedRefetchFailureIsReported(t *testing.T) {
	h := newHarness(t, true)
	h.gw.On("Add", mock.Anything, "p1", 1).Return(nil).Once()
	h.gw.On("Fetch", mock.Anything).Return(nil, apperrors.Unavailable("cart-api unreachable", nil)).Once()

	require.NoError(t, h.engine.AddToCart(context.Background(), linen(), 1))

	levels := map[string]notify.Level{}
	for _, n := range h.inbox.Drain() {
		levels[n.Action] = n.Level
	}
	assert.Equal(t, notify.LevelSuccess, levels["add"])
	assert.Equal(t, notify.LevelError, levels["fetch"])
	assert.True(t, h.engine.State().Cart.IsEmpty())
}

func TestAddToCart_AuthenticatedFailureLeavesCart(t *testing.T) {
	h := newHarness(t, true)
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p2", 1, 4500)), nil).Once()
	require.NoError(t, h.engine.FetchCart(context.Background()))
	before := h.engine.State().Cart

	h.gw.On("Add", mock.Anything, "p1", 1).Return(apperrors.Unavailable("cart-api unreachable", nil)).Once()
	err := h.engine.AddToCart(context.Background(), linen(), 1)

	require.Error(t, err)
	assert.Equal(t, before, h.engine.State().Cart)
	h.gw.AssertNumberOfCalls(t, "Fetch", 1)
	n := lastNotification(t, h.inbox)
	assert.Equal(t, notify.LevelError, n.Level)
	assert.Contains(t, n.Message, "Linen Shirt")
	assert.False(t, h.engine.State().Loading)
}

func TestRemoveFromCart_AuthenticatedDeletesThenRefetches(t *testing.T) {
	h := newHarness(t, true)
	h.gw.On("Remove", mock.Anything, "p1").Return(nil).Once()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(), nil).Once()

	require.NoError(t, h.engine.RemoveFromCart(context.Background(), "p1"))
	h.gw.AssertExpectations(t)
}

func TestUpdateQuantity_ScenarioC_OptimisticSuccess(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 3, 1000)), nil).Once()
	require.NoError(t, h.engine.FetchCart(ctx))

	started := make(chan struct{})
	release := make(chan struct{})
	h.gw.On("UpdateQuantity", mock.Anything, "p1", 2).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()

	done := make(chan error, 1)
	go func() { done <- h.engine.UpdateQuantity(ctx, "p1", 2) }()
	<-started

	st := h.engine.State()
	it, _ := st.Cart.Item("p1")
	assert.Equal(t, 2, it.Quantity, "applied before the server answered")
	assert.Equal(t, int64(2000), st.Cart.TotalPrice)
	assert.True(t, h.engine.IsItemLoading("p1"))
	assert.False(t, st.Loading)

	close(release)
	require.NoError(t, <-done)

	it, _ = h.engine.State().Cart.Item("p1")
	assert.Equal(t, 2, it.Quantity)
	assert.False(t, h.engine.IsItemLoading("p1"))
	h.gw.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestUpdateQuantity_ScenarioD_FailureRollsBack(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 3, 1000)), nil).Twice()
	require.NoError(t, h.engine.FetchCart(ctx))
	h.gw.On("UpdateQuantity", mock.Anything, "p1", 2).Return(apperrors.Unavailable("cart-api unreachable", nil)).Once()

	err := h.engine.UpdateQuantity(ctx, "p1", 2)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	it, _ := h.engine.State().Cart.Item("p1")
	assert.Equal(t, 3, it.Quantity)
	assert.Equal(t, int64(3000), h.engine.State().Cart.TotalPrice)
	assert.False(t, h.engine.IsItemLoading("p1"))
	assert.Empty(t, h.engine.State().LoadingItems)
	h.gw.AssertExpectations(t)
	assert.Equal(t, notify.LevelError, lastNotification(t, h.inbox).Level)
}

func TestUpdateQuantity_LatestWins(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 1, 1000)), nil).Once()
	require.NoError(t, h.engine.FetchCart(ctx))

	started := make(chan struct{})
	release := make(chan struct{})
	h.gw.On("UpdateQuantity", mock.Anything, "p1", 2).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()
	h.gw.On("UpdateQuantity", mock.Anything, "p1", 5).Return(nil).Once()

	done := make(chan error, 1)
	go func() { done <- h.engine.UpdateQuantity(ctx, "p1", 2) }()
	<-started

	require.NoError(t, h.engine.UpdateQuantity(ctx, "p1", 3))
	require.NoError(t, h.engine.UpdateQuantity(ctx, "p1", 4))
	require.NoError(t, h.engine.UpdateQuantity(ctx, "p1", 5))
	it, _ := h.engine.State().Cart.Item("p1")
	assert.Equal(t, 5, it.Quantity)
	assert.True(t, h.engine.IsItemLoading("p1"))

	close(release)
	require.NoError(t, <-done)

	h.gw.AssertExpectations(t)
	h.gw.AssertNotCalled(t, "UpdateQuantity", mock.Anything, "p1", 3)
	h.gw.AssertNotCalled(t, "UpdateQuantity", mock.Anything, "p1", 4)
	assert.False(t, h.engine.IsItemLoading("p1"))
	it, _ = h.engine.State().Cart.Item("p1")
	assert.Equal(t, 5, it.Quantity)
}

func TestUpdateQuantity_FetchKeepsInFlightValue(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 1, 1000), ref("p2", 1, 500)), nil)

	require.NoError(t, h.engine.FetchCart(ctx))

	started := make(chan struct{})
	release := make(chan struct{})
	h.gw.On("UpdateQuantity", mock.Anything, "p1", 6).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()

	done := make(chan error, 1)
	go func() { done <- h.engine.UpdateQuantity(ctx, "p1", 6) }()
	<-started

	require.NoError(t, h.engine.FetchCart(ctx))
	it, _ := h.engine.State().Cart.Item("p1")
	assert.Equal(t, 6, it.Quantity)

	close(release)
	require.NoError(t, <-done)
}

func TestClearCart_ScenarioF_RemoteFailureStillEmpties(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 2, 1000)), nil).Once()
	require.NoError(t, h.engine.FetchCart(ctx))
	h.gw.On("Clear", mock.Anything).Return(errors.New("connection reset")).Once()

	err := h.engine.ClearCart(ctx)

	require.Error(t, err)
	st := h.engine.State()
	assert.True(t, st.Cart.IsEmpty())
	assert.Zero(t, st.Cart.TotalPrice)
	assert.False(t, st.Loading)
	assert.Equal(t, notify.LevelError, lastNotification(t, h.inbox).Level)
}

func TestClearCart_AuthenticatedSuccess(t *testing.T) {
	h := newHarness(t, true)
	h.gw.On("Clear", mock.Anything).Return(nil).Once()

	require.NoError(t, h.engine.ClearCart(context.Background()))
	assert.True(t, h.engine.State().Cart.IsEmpty())
	h.gw.AssertNotCalled(t, "Fetch", mock.Anything)
}

// --- Sync ---

func seedGuest(t *testing.T, h *harness, products ...domain.Product) {
	t.Helper()
	c := domain.NewCart()
	for i, p := range products {
		c.AddProduct(p, i+1)
	}
	h.store.Write(context.Background(), c)
}

func TestSyncCart_RequiresAuthentication(t *testing.T) {
	h := newHarness(t, false)
	assert.ErrorIs(t, h.engine.SyncCart(context.Background()), ErrNotAuthenticated)
}

func TestSyncCart_SequentialThenErase(t *testing.T) {
	h := newHarness(t, true)
	seedGuest(t, h, linen(), boots())

	var order []string
	h.gw.On("Add", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		order = append(order, args.String(1))
	}).Return(nil).Twice()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 1, 1000), ref("p2", 2, 4500), ref("p9", 1, 100)), nil).Once()

	require.NoError(t, h.engine.SyncCart(context.Background()))

	assert.Equal(t, []string{"p1", "p2"}, order)
	h.gw.AssertCalled(t, "Add", mock.Anything, "p1", 1)
	h.gw.AssertCalled(t, "Add", mock.Anything, "p2", 2)
	assert.Zero(t, h.backend.Len(), "guest key erased")
	assert.Len(t, h.engine.State().Cart.Items, 3)
	assert.False(t, h.engine.State().Syncing)
	assert.Equal(t, notify.LevelSuccess, lastNotification(t, h.inbox).Level)
}

func TestSyncCart_PartialFailureKeepsUnsentItems(t *testing.T) {
	h := newHarness(t, true)
	third := domain.Product{ID: "p3", Name: "Wool Beret", Price: 2000}
	seedGuest(t, h, linen(), boots(), third)

	h.gw.On("Add", mock.Anything, "p1", 1).Return(nil).Once()
	h.gw.On("Add", mock.Anything, "p2", 2).Return(apperrors.Unavailable("cart-api unreachable", nil)).Once()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 1, 1000)), nil).Once()

	err := h.engine.SyncCart(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	h.gw.AssertExpectations(t)
	h.gw.AssertNotCalled(t, "Add", mock.Anything, "p3", mock.Anything)

	kept := h.store.Read(context.Background())
	require.Len(t, kept.Items, 2)
	assert.Equal(t, "p2", kept.Items[0].ProductID())
	assert.Equal(t, "p3", kept.Items[1].ProductID())
	assert.Equal(t, kept.Subtotal(), kept.TotalPrice)

	assert.Len(t, h.engine.State().Cart.Items, 1)
	assert.False(t, h.engine.State().Syncing)
	assert.Equal(t, notify.LevelError, lastNotification(t, h.inbox).Level)
}

func TestSyncCart_RetryAfterPartialFailureDoesNotDuplicate(t *testing.T) {
	h := newHarness(t, true)
	seedGuest(t, h, linen(), boots())
	h.gw.On("Add", mock.Anything, "p1", 1).Return(nil).Once()
	h.gw.On("Add", mock.Anything, "p2", 2).Return(errors.New("timeout")).Once()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(), nil)
	require.Error(t, h.engine.SyncCart(context.Background()))

	h.gw.On("Add", mock.Anything, "p2", 2).Return(nil).Once()
	require.NoError(t, h.engine.SyncCart(context.Background()))

	h.gw.AssertNumberOfCalls(t, "Add", 3)
	assert.Zero(t, h.backend.Len())
}

func TestSyncCart_EmptyGuestCartOnlyFetches(t *testing.T) {
	h := newHarness(t, true)
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 1, 1000)), nil).Once()

	require.NoError(t, h.engine.SyncCart(context.Background()))
	h.gw.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, h.inbox.Len())
}

func TestSyncCart_RejectsMutationsWhileRunning(t *testing.T) {
	h := newHarness(t, true)
	seedGuest(t, h, linen())
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	h.gw.On("Add", mock.Anything, "p1", 1).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 1, 1000)), nil).Once()

	done := make(chan error, 1)
	go func() { done <- h.engine.SyncCart(ctx) }()
	<-started

	st := h.engine.State()
	assert.True(t, st.Syncing)
	assert.True(t, st.Loading)
	assert.ErrorIs(t, h.engine.AddToCart(ctx, boots(), 1), ErrSyncInProgress)
	assert.ErrorIs(t, h.engine.RemoveFromCart(ctx, "p1"), ErrSyncInProgress)
	assert.ErrorIs(t, h.engine.UpdateQuantity(ctx, "p1", 3), ErrSyncInProgress)
	assert.ErrorIs(t, h.engine.ClearCart(ctx), ErrSyncInProgress)
	assert.ErrorIs(t, h.engine.SyncCart(ctx), ErrSyncInProgress)
	assert.ErrorIs(t, ErrSyncInProgress, apperrors.ErrConflict)

	close(release)
	require.NoError(t, <-done)
	h.gw.AssertExpectations(t)
	assert.False(t, h.engine.State().Syncing)
}

// --- Identity transitions ---

func TestOnIdentityChange_LoginWithGuestItemsSyncs(t *testing.T) {
	h := newHarness(t, false)
	seedGuest(t, h, linen())
	h.ids.set(shopper)
	h.gw.On("Add", mock.Anything, "p1", 1).Return(nil).Once()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 1, 1000)), nil).Once()

	require.NoError(t, h.engine.OnIdentityChange(context.Background(), auth.Identity{}, shopper))

	h.gw.AssertExpectations(t)
	assert.Zero(t, h.backend.Len())
}

func TestOnIdentityChange_LoginWithEmptyGuestCartFetches(t *testing.T) {
	h := newHarness(t, false)
	h.ids.set(shopper)
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p7", 2, 300)), nil).Once()

	require.NoError(t, h.engine.OnIdentityChange(context.Background(), auth.Identity{}, shopper))
	assert.Equal(t, 2, h.engine.ItemCount())
	h.gw.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
}

func TestOnIdentityChange_LogoutReloadsGuestStore(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("p1", 9, 1000)), nil).Once()
	require.NoError(t, h.engine.FetchCart(ctx))
	seedGuest(t, h, boots())

	h.ids.set(auth.Identity{})
	require.NoError(t, h.engine.OnIdentityChange(ctx, shopper, auth.Identity{}))

	st := h.engine.State()
	assert.Equal(t, domain.ModeGuest, st.Mode)
	require.Len(t, st.Cart.Items, 1)
	assert.Equal(t, "p2", st.Cart.Items[0].ProductID())
}

func TestOnIdentityChange_SwitchUserDuringFetch(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	started, release := blockingFetch(h, serverCart(ref("user1-item", 1, 900)))
	h.gw.On("Fetch", mock.Anything).Return(serverCart(ref("user2-item", 1, 100)), nil).Once()

	done := make(chan error, 1)
	go func() { done <- h.engine.FetchCart(ctx) }()
	<-started

	other := auth.Identity{UserID: "user-2"}
	h.ids.set(other)
	require.NoError(t, h.engine.OnIdentityChange(ctx, shopper, other))

	close(release)
	require.NoError(t, <-done)

	st := h.engine.State()
	_, mine := st.Cart.Item("user2-item")
	_, theirs := st.Cart.Item("user1-item")
	assert.True(t, mine)
	assert.False(t, theirs, "the previous user's cart must not reach the new user")
	h.gw.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestOnIdentityChange_SwitchUserFetches(t *testing.T) {
	h := newHarness(t, true)
	seedGuest(t, h, linen())
	other := auth.Identity{UserID: "user-2"}
	h.ids.set(other)
	h.gw.On("Fetch", mock.Anything).Return(serverCart(), nil).Once()

	require.NoError(t, h.engine.OnIdentityChange(context.Background(), shopper, other))
	h.gw.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, h.backend.Len())
}

// --- Consumers ---

func TestWatch_DeliversLatestState(t *testing.T) {
	h := newHarness(t, false)
	ctx, cancel := context.WithCancel(context.Background())

	ch := h.engine.Watch(ctx)
	initial := <-ch
	assert.True(t, initial.Cart.IsEmpty())

	require.NoError(t, h.engine.AddToCart(context.Background(), linen(), 1))
	require.NoError(t, h.engine.AddToCart(context.Background(), linen(), 1))

	latest := <-ch
	assert.Equal(t, 2, latest.ItemCount)
	assert.False(t, latest.Loading)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestState_IsASnapshot(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.engine.AddToCart(context.Background(), linen(), 1))

	st := h.engine.State()
	st.Cart.Items[0].Quantity = 99
	st.LoadingItems["p1"] = true

	assert.Equal(t, 1, h.engine.ItemCount())
	assert.False(t, h.engine.IsItemLoading("p1"))
}

func TestLoading_OverlappingOperations(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	h.gw.On("Add", mock.Anything, "p1", 1).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()
	h.gw.On("Remove", mock.Anything, "p2").Return(nil).Once()
	h.gw.On("Fetch", mock.Anything).Return(serverCart(), nil)

	done := make(chan error, 1)
	go func() { done <- h.engine.AddToCart(ctx, linen(), 1) }()
	<-started

	require.NoError(t, h.engine.RemoveFromCart(ctx, "p2"))
	assert.True(t, h.engine.State().Loading, "the add is still running")

	close(release)
	require.NoError(t, <-done)
	assert.False(t, h.engine.State().Loading)
}

func TestMetrics_CountOutcomes(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	success := operationsTotal.WithLabelValues("add", "guest", outcomeSuccess)
	rejected := operationsTotal.WithLabelValues("add", "guest", outcomeRejected)
	before, beforeRejected := counterValue(t, success), counterValue(t, rejected)

	require.NoError(t, h.engine.AddToCart(ctx, linen(), 1))
	require.Error(t, h.engine.AddToCart(ctx, linen(), 0))

	assert.Equal(t, before+1, counterValue(t, success))
	assert.Equal(t, beforeRejected+1, counterValue(t, rejected))
}
