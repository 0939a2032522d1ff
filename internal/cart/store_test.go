package cart

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existflow/ecofinds/internal/api"
	"github.com/existflow/ecofinds/internal/apitest"
	"github.com/existflow/ecofinds/internal/db"
	"github.com/existflow/ecofinds/internal/metrics"
	"github.com/existflow/ecofinds/internal/model"
)

var (
	shirt = model.CartProduct{ID: "p1", Title: "Linen shirt", Price: 10, OriginalPrice: 15, Seller: model.Seller{ID: "s1", Username: "thrift"}}
	lamp  = model.CartProduct{ID: "p2", Title: "Desk lamp", Price: 25, Seller: model.Seller{ID: "s2", Username: "rewire"}}
)

type testEnv struct {
	srv     *apitest.Server
	local   *db.DB
	creds   *api.Credentials
	client  *api.Client
	metrics *metrics.Metrics
	store   *Store
}

func openLocal(t *testing.T) *db.DB {
	t.Helper()
	local, err := db.Open(filepath.Join(t.TempDir(), "cart.db"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })
	return local
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	srv := apitest.New(t)
	srv.AddProduct(shirt)
	srv.AddProduct(lamp)
	srv.AddUser("a@b.com", "secret", model.User{ID: "u1", Username: "ada"})

	local := openLocal(t)
	creds := api.NewCredentials(local)
	m := metrics.New()
	client := api.NewClient(api.Config{BaseURL: srv.URL(), Timeout: 5 * time.Second, Metrics: m}, creds)

	resp, err := client.Login(ctx, model.LoginCredentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)
	require.NoError(t, creds.Store(ctx, resp))

	store := NewStore(client, local, WithMetrics(m))
	t.Cleanup(store.Close)

	return &testEnv{srv: srv, local: local, creds: creds, client: client, metrics: m, store: store}
}

func (e *testEnv) itemID(t *testing.T, productID string) string {
	t.Helper()
	it, ok := model.ItemForProduct(e.store.State().Cart, productID)
	require.True(t, ok, "no line for %s", productID)
	return it.ID
}

func (e *testEnv) localCart(t *testing.T) (*model.Cart, bool) {
	t.Helper()
	var c model.Cart
	ok, err := e.local.GetJSON(context.Background(), db.KeyCartData, &c)
	require.NoError(t, err)
	if !ok {
		return nil, false
	}
	return &c, true
}

// ============================================================================
// Mutation Tests
// ============================================================================

func TestAddToCart_StateMatchesServerCart(t *testing.T) {
	const cartBody = `{"items":[{"productId":"p1","quantity":2,"product":{"price":10}}],"totalItems":2,"totalPrice":20}`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method + " " + r.URL.Path {
		case "POST /cart/items":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"productId":"p1","quantity":2,"product":{"price":10}}`))
		case "GET /cart":
			w.Write([]byte(cartBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	local := openLocal(t)
	client := api.NewClient(api.Config{BaseURL: ts.URL}, api.NewCredentials(local))
	store := NewStore(client, local)
	defer store.Close()

	require.NoError(t, store.AddToCart(context.Background(), "p1", 2))

	var want model.Cart
	require.NoError(t, json.Unmarshal([]byte(cartBody), &want))
	st := store.State()
	assert.Equal(t, &want, st.Cart)
	assert.Equal(t, 2, st.CartCount)
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.Error)
}

func TestTotalsFollowServerAcrossOperations(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	check := func(step string) {
		st := env.store.State()
		server := env.srv.Cart("u1")
		require.NotNil(t, st.Cart, step)
		assert.Equal(t, model.TotalItems(st.Cart), st.Cart.TotalItems, step)
		assert.InDelta(t, model.TotalPrice(st.Cart), st.Cart.TotalPrice, 1e-9, step)
		assert.Equal(t, server.TotalItems, st.Cart.TotalItems, step)
		assert.InDelta(t, server.TotalPrice, st.Cart.TotalPrice, 1e-9, step)
		assert.Equal(t, st.Cart.TotalItems, st.CartCount, step)
	}

	require.NoError(t, env.store.AddToCart(ctx, "p1", 2))
	check("add p1")
	require.NoError(t, env.store.AddToCart(ctx, "p2", 1))
	check("add p2")
	require.NoError(t, env.store.AddToCart(ctx, "p1", 1))
	check("add p1 again")
	require.NoError(t, env.store.UpdateCartItem(ctx, env.itemID(t, "p2"), 4))
	check("update p2")
	require.NoError(t, env.store.RemoveFromCart(ctx, env.itemID(t, "p1")))
	check("remove p1")

	st := env.store.State()
	assert.Equal(t, 4, st.Cart.TotalItems)
	assert.InDelta(t, 100.0, st.Cart.TotalPrice, 1e-9)
}

func TestUpdateCartItem_Idempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.store.AddToCart(ctx, "p1", 1))
	id := env.itemID(t, "p1")

	require.NoError(t, env.store.UpdateCartItem(ctx, id, 3))
	once := env.store.State().Cart
	require.NoError(t, env.store.UpdateCartItem(ctx, id, 3))
	twice := env.store.State().Cart

	assert.Equal(t, once.Items, twice.Items)
	assert.Equal(t, once.TotalItems, twice.TotalItems)
	assert.Equal(t, once.TotalPrice, twice.TotalPrice)
}

func TestUpdateCartItem_ZeroRemovesLine(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.store.AddToCart(ctx, "p1", 1))
	require.NoError(t, env.store.AddToCart(ctx, "p2", 1))

	require.NoError(t, env.store.UpdateCartItem(ctx, env.itemID(t, "p1"), 0))

	st := env.store.State()
	assert.False(t, model.IsInCart(st.Cart, "p1"))
	assert.True(t, model.IsInCart(st.Cart, "p2"))
	assert.Zero(t, env.srv.Calls("PUT /cart/items/:id"))
	assert.Equal(t, 1, env.srv.Calls("DELETE /cart/items/:id"))

	// Same end state as an explicit removal
	require.NoError(t, env.store.RemoveFromCart(ctx, env.itemID(t, "p2")))
	require.NoError(t, env.store.AddToCart(ctx, "p2", 1))
	require.NoError(t, env.store.UpdateCartItem(ctx, env.itemID(t, "p2"), -1))
	assert.Empty(t, env.store.State().Cart.Items)
}

func TestMutationFailureKeepsLastGoodCart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.store.AddToCart(ctx, "p1", 1))
	before := env.store.State().Cart

	env.srv.FailNext("POST /cart/items", http.StatusInternalServerError, "boom")
	err := env.store.AddToCart(ctx, "p2", 1)

	assert.True(t, api.IsStatus(err, http.StatusInternalServerError))
	st := env.store.State()
	assert.Same(t, before, st.Cart)
	assert.Equal(t, "boom", st.Error)
	assert.False(t, st.IsLoading)

	env.store.ClearError()
	assert.Empty(t, env.store.State().Error)
	assert.Same(t, before, env.store.State().Cart)
}

func TestAddToCart_RejectsBadQuantity(t *testing.T) {
	env := newTestEnv(t)

	err := env.store.AddToCart(context.Background(), "p1", 0)

	var valErr *api.ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, "Quantity must be at least 1", env.store.State().Error)
	assert.Zero(t, env.srv.Calls("POST /cart/items"))
}

func TestConcurrentAddsOfOneProductAllLand(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.store.AddToCart(ctx, "p1", 1))
		}()
	}
	wg.Wait()

	st := env.store.State()
	it, ok := model.ItemForProduct(st.Cart, "p1")
	require.True(t, ok)
	assert.Equal(t, 5, it.Quantity)
	assert.Equal(t, 5, st.CartCount)
	assert.False(t, st.IsLoading)
}

// gatedAPI holds the first GetCart response until released, after the
// server has already answered it.
type gatedAPI struct {
	API

	mu      sync.Mutex
	gated   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedAPI) GetCart(ctx context.Context) (*model.Cart, error) {
	g.mu.Lock()
	hold := !g.gated
	g.gated = true
	g.mu.Unlock()

	cart, err := g.API.GetCart(ctx)
	if hold {
		close(g.entered)
		<-g.release
	}
	return cart, err
}

func TestSlowResponseDoesNotOverwriteNewerCart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	gated := &gatedAPI{API: env.client, entered: make(chan struct{}), release: make(chan struct{})}
	store := NewStore(gated, env.local, WithMetrics(env.metrics))
	defer store.Close()

	slow := make(chan error, 1)
	go func() { slow <- store.RefreshCart(ctx) }()
	<-gated.entered

	require.NoError(t, store.AddToCart(ctx, "p1", 2))
	newer := store.State()

	close(gated.release)
	require.NoError(t, <-slow)

	st := store.State()
	assert.Same(t, newer.Cart, st.Cart)
	assert.Equal(t, newer.Version(), st.Version())
	assert.True(t, model.IsInCart(st.Cart, "p1"))
	assert.False(t, st.IsLoading)
	assert.Equal(t, 1.0, env.metrics.Total("ecofinds_cart_stale_responses_total"))

	persisted, ok := env.localCart(t)
	require.True(t, ok)
	assert.True(t, model.IsInCart(persisted, "p1"))
}

// ============================================================================
// Initialize Tests
// ============================================================================

func TestInitialize_FromServerWritesBehind(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.client.AddItem(ctx, "p1", 3)
	require.NoError(t, err)

	src, err := env.store.Initialize(ctx)

	require.NoError(t, err)
	assert.Equal(t, SourceServer, src)
	assert.Equal(t, 3, env.store.State().CartCount)
	persisted, ok := env.localCart(t)
	require.True(t, ok)
	assert.Equal(t, 3, persisted.TotalItems)
	assert.Zero(t, env.srv.Calls("POST /cart/sync"))
}

func TestInitialize_OfflineLoadsLocalCartAndSyncsOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.local.SetJSON(ctx, db.KeyCartData, &model.Cart{
		Items: []model.CartItem{{ID: "local-1", ProductID: "p1", Product: shirt, Quantity: 2}},
	}))
	env.srv.DropAlways("GET /cart")

	src, err := env.store.Initialize(ctx)

	require.NoError(t, err)
	assert.Equal(t, SourceLocal, src)
	st := env.store.State()
	require.NotNil(t, st.Cart)
	assert.Equal(t, 2, st.Cart.TotalItems)
	assert.InDelta(t, 20.0, st.Cart.TotalPrice, 1e-9)
	assert.Empty(t, st.Error)

	env.store.Wait()
	assert.Equal(t, 1, env.srv.Calls("POST /cart/sync"))
	assert.Empty(t, env.store.State().Error)
	assert.Equal(t, "local-1", env.store.State().Cart.Items[0].ID)
	assert.True(t, model.IsInCart(env.srv.Cart("u1"), "p1"))
	assert.Equal(t, 1.0, env.metrics.Total("ecofinds_cart_syncs_total"))
	assert.False(t, env.store.Syncing())
}

func TestInitialize_SyncThenShowsServerCart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.local.SetJSON(ctx, db.KeyCartData, &model.Cart{
		Items: []model.CartItem{{ID: "local-1", ProductID: "p2", Product: lamp, Quantity: 1}},
	}))
	env.srv.FailNext("GET /cart", http.StatusServiceUnavailable, "maintenance")

	src, err := env.store.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, src)

	env.store.Wait()
	st := env.store.State()
	it, ok := model.ItemForProduct(st.Cart, "p2")
	require.True(t, ok)
	assert.NotEqual(t, "local-1", it.ID)
	assert.Empty(t, st.Error)

	persisted, ok := env.localCart(t)
	require.True(t, ok)
	assert.Equal(t, it.ID, persisted.Items[0].ID)
}

func TestInitialize_OfflineWithoutLocalCart(t *testing.T) {
	env := newTestEnv(t)
	env.srv.DropAlways("GET /cart")

	src, err := env.store.Initialize(context.Background())

	var netErr *api.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, SourceNone, src)
	assert.Equal(t, api.MsgNetwork, env.store.State().Error)
	env.store.Wait()
	assert.Zero(t, env.srv.Calls("POST /cart/sync"))
}

func TestInitialize_ExpiredSessionIgnoresLocalCart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.local.SetJSON(ctx, db.KeyCartData, &model.Cart{
		Items: []model.CartItem{{ID: "local-1", ProductID: "p1", Product: shirt, Quantity: 1}},
	}))
	env.srv.ExpireAccessTokens()
	env.srv.RevokeRefreshTokens()

	src, err := env.store.Initialize(ctx)

	assert.True(t, api.IsAuthExpired(err))
	assert.Equal(t, SourceNone, src)
	assert.Nil(t, env.store.State().Cart)
	env.store.Wait()
	assert.Zero(t, env.srv.Calls("POST /cart/sync"))
	assert.Equal(t, 1, env.srv.Calls("POST /auth/refresh"))
}

// ============================================================================
// Optimistic Tests
// ============================================================================

func TestAddToCartOptimistic_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.store.AddToCart(ctx, "p1", 1))
	before := env.store.State().Cart

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.srv.Hook("POST /cart/items", func() {
		once.Do(func() { close(entered) })
		<-release
	})
	env.srv.FailNext("POST /cart/items", http.StatusConflict, "Out of stock")

	done := make(chan error, 1)
	go func() { done <- env.store.AddToCartOptimistic(ctx, lamp, 1) }()
	<-entered

	tentative := env.store.State()
	it, ok := model.ItemForProduct(tentative.Cart, "p2")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(it.ID, "pending-"))
	assert.Equal(t, 2, tentative.CartCount)

	close(release)
	require.Error(t, <-done)

	st := env.store.State()
	assert.Equal(t, before, st.Cart)
	assert.Equal(t, 1, st.CartCount)
	assert.Equal(t, "Out of stock", st.Error)
}

func TestAddToCartOptimistic_NewerCartWinsOverRollback(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.srv.Hook("POST /cart/items", func() {
		once.Do(func() { close(entered) })
		<-release
	})
	env.srv.FailNext("POST /cart/items", http.StatusConflict, "Out of stock")

	done := make(chan error, 1)
	go func() { done <- env.store.AddToCartOptimistic(ctx, lamp, 1) }()
	<-entered

	require.NoError(t, env.store.RefreshCart(ctx))
	refreshed := env.store.State().Cart

	close(release)
	require.Error(t, <-done)

	st := env.store.State()
	assert.Same(t, refreshed, st.Cart)
	assert.Equal(t, "Out of stock", st.Error)
}

func TestRemoveOptimistic_FailureKeepsConcurrentAdd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.store.AddToCart(ctx, "p2", 1))
	lampLine := env.itemID(t, "p2")

	// hold the reload that follows a successful add
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.srv.Hook("GET /cart", func() {
		once.Do(func() { close(entered) })
		<-release
	})

	added := make(chan error, 1)
	go func() { added <- env.store.AddToCart(ctx, "p1", 1) }()
	<-entered

	env.srv.FailNext("DELETE /cart/items/:id", http.StatusInternalServerError, "boom")
	require.Error(t, env.store.RemoveFromCartOptimistic(ctx, lampLine))

	env.srv.Hook("GET /cart", nil)
	close(release)
	require.NoError(t, <-added)

	st := env.store.State()
	assert.True(t, model.IsInCart(st.Cart, "p1"))
	assert.True(t, model.IsInCart(st.Cart, "p2"))
	assert.Equal(t, 2, st.CartCount)

	persisted, ok := env.localCart(t)
	require.True(t, ok)
	assert.True(t, model.IsInCart(persisted, "p1"))
}

func TestRemoveOptimistic_PlainAddDuringEdit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.store.AddToCart(ctx, "p2", 1))
	lampLine := env.itemID(t, "p2")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.srv.Hook("DELETE /cart/items/:id", func() {
		once.Do(func() { close(entered) })
		<-release
	})
	env.srv.FailNext("DELETE /cart/items/:id", http.StatusInternalServerError, "boom")

	removed := make(chan error, 1)
	go func() { removed <- env.store.RemoveFromCartOptimistic(ctx, lampLine) }()
	<-entered

	// a plain add finishes while the removal is still tentative
	require.NoError(t, env.store.AddToCart(ctx, "p1", 1))

	close(release)
	require.Error(t, <-removed)

	st := env.store.State()
	assert.True(t, model.IsInCart(st.Cart, "p1"))
	assert.True(t, model.IsInCart(st.Cart, "p2"))
}

func TestOptimisticSuccessShowsServerLine(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.AddToCartOptimistic(ctx, shirt, 2))
	it, ok := model.ItemForProduct(env.store.State().Cart, "p1")
	require.True(t, ok)
	assert.False(t, strings.HasPrefix(it.ID, "pending-"))
	assert.Equal(t, 2, it.Quantity)

	env.srv.FailNext("DELETE /cart/items/:id", http.StatusInternalServerError, "boom")
	require.Error(t, env.store.RemoveFromCartOptimistic(ctx, it.ID))
	assert.True(t, model.IsInCart(env.store.State().Cart, "p1"))

	require.NoError(t, env.store.RemoveFromCartOptimistic(ctx, it.ID))
	assert.False(t, model.IsInCart(env.store.State().Cart, "p1"))
}

// ============================================================================
// Clear, Checkout & Extras Tests
// ============================================================================

func TestClearCart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.store.AddToCart(ctx, "p1", 2))
	_, ok := env.localCart(t)
	require.True(t, ok)

	require.NoError(t, env.store.ClearCart(ctx))

	st := env.store.State()
	assert.Nil(t, st.Cart)
	assert.Zero(t, st.CartCount)
	_, ok = env.localCart(t)
	assert.False(t, ok)
	assert.Empty(t, env.srv.Cart("u1").Items)
}

func TestCheckout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.store.Checkout(ctx, model.CheckoutData{})
	var valErr *api.ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Zero(t, env.srv.Calls("POST /cart/checkout"))

	require.NoError(t, env.store.AddToCart(ctx, "p1", 1))
	res, err := env.store.Checkout(ctx, model.CheckoutData{
		ShippingAddress: model.Address{FullName: "Ada L", Street: "1 Loop", City: "London", PostalCode: "N1", Country: "GB"},
		PaymentMethod:   model.PaymentMethod{Type: "card", TokenID: "tok_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order-1", res.OrderID)
	assert.Nil(t, env.store.State().Cart)
	_, ok := env.localCart(t)
	assert.False(t, ok)
}

func TestSummaryAndDiscount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.store.AddToCart(ctx, "p1", 5))

	summary, err := env.store.GetCartSummary(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, summary.Subtotal, 1e-9)
	assert.Zero(t, summary.Shipping)
	assert.InDelta(t, 54.0, summary.Total, 1e-9)

	res, err := env.store.ApplyDiscount(ctx, "ECO10")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, res.Discount, 1e-9)

	summary, err = env.store.GetCartSummary(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 45.0, summary.Subtotal, 1e-9)
	assert.InDelta(t, 5.99, summary.Shipping, 1e-9)

	_, err = env.store.ApplyDiscount(ctx, "NOPE")
	require.Error(t, err)
	assert.Equal(t, "Invalid discount code", env.store.State().Error)
	require.NoError(t, env.store.RemoveDiscount(ctx))

	assert.InDelta(t, 25.0, model.Savings(env.store.State().Cart), 1e-9)
}

func TestValidateShippingMergeAndCount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.client.AddItem(ctx, "p2", 2)
	require.NoError(t, err)

	v, err := env.store.ValidateCart(ctx)
	require.NoError(t, err)
	assert.True(t, v.IsValid)

	_, err = env.store.EstimateShipping(ctx, model.ShippingDestination{City: "Paris"})
	require.Error(t, err)
	assert.Zero(t, env.srv.Calls("POST /cart/shipping"))
	q, err := env.store.EstimateShipping(ctx, model.ShippingDestination{City: "Austin", Country: "US"})
	require.NoError(t, err)
	assert.Equal(t, 3, q.EstimatedDays)

	require.NoError(t, env.store.MergeLocal(ctx))
	assert.True(t, model.IsInCart(env.store.State().Cart, "p2"))

	n, err := env.store.RefreshCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, env.store.State().CartCount)
}

func TestResetForgetsCart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.store.AddToCart(ctx, "p1", 1))

	env.store.Reset()

	assert.Nil(t, env.store.State().Cart)
	_, ok := env.localCart(t)
	assert.False(t, ok)
}

func TestCloseDiscardsLateResults(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ch, cancel := env.store.Subscribe()
	defer cancel()
	<-ch

	env.store.Close()
	_, open := <-ch
	assert.False(t, open)

	require.NoError(t, env.store.AddToCart(ctx, "p1", 1))
	assert.Nil(t, env.store.State().Cart)
	assert.True(t, model.IsInCart(env.srv.Cart("u1"), "p1"))
}

func TestSyncLocal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.local.SetJSON(ctx, db.KeyCartData, &model.Cart{
		Items: []model.CartItem{{ID: "local-1", ProductID: "p1", Product: shirt, Quantity: 1}},
	}))

	env.srv.FailNext("POST /cart/sync", http.StatusBadGateway, "upstream down")
	require.Error(t, env.store.SyncLocal(ctx))
	assert.Equal(t, "upstream down", env.store.State().Error)

	require.NoError(t, env.store.SyncLocal(ctx))
	assert.True(t, model.IsInCart(env.store.State().Cart, "p1"))
	assert.Empty(t, env.store.State().Error)
	assert.Equal(t, 2.0, env.metrics.Total("ecofinds_cart_syncs_total"))
}

func TestInitialize_BackgroundSyncDisabled(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	store := NewStore(env.client, env.local, WithBackgroundSync(false))
	defer store.Close()
	require.NoError(t, env.local.SetJSON(ctx, db.KeyCartData, &model.Cart{
		Items: []model.CartItem{{ID: "local-1", ProductID: "p1", Product: shirt, Quantity: 1}},
	}))
	env.srv.FailNext("GET /cart", http.StatusServiceUnavailable, "maintenance")

	src, err := store.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, src)
	store.Wait()
	assert.Zero(t, env.srv.Calls("POST /cart/sync"))
}
