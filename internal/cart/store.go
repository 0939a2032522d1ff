package cart

import (
	"context"
	"errors"
	"sync"

	"github.com/existflow/ecofinds/internal/api"
	"github.com/existflow/ecofinds/internal/db"
	"github.com/existflow/ecofinds/internal/logger"
	"github.com/existflow/ecofinds/internal/metrics"
	"github.com/existflow/ecofinds/internal/model"
)

// API is the part of the HTTP client the store needs. *api.Client implements it.
type API interface {
	GetCart(ctx context.Context) (*model.Cart, error)
	AddItem(ctx context.Context, productID string, quantity int) (*model.CartItem, error)
	UpdateItem(ctx context.Context, itemID string, quantity int) (*model.CartItem, error)
	RemoveItem(ctx context.Context, itemID string) error
	ClearCart(ctx context.Context) error
	CartSummary(ctx context.Context) (*model.CartSummary, error)
	CartCount(ctx context.Context) (int, error)
	SyncCart(ctx context.Context, cart *model.Cart) error
	MergeCart(ctx context.Context) (*model.Cart, error)
	ApplyDiscount(ctx context.Context, code string) (*model.DiscountResult, error)
	RemoveDiscount(ctx context.Context) error
	ValidateCart(ctx context.Context) (*model.CartValidation, error)
	EstimateShipping(ctx context.Context, dest model.ShippingDestination) (*model.ShippingQuote, error)
	Checkout(ctx context.Context, data model.CheckoutData) (*model.CheckoutResult, error)
}

// Local is the persisted storage holding the last known cart. *db.DB implements it.
type Local interface {
	GetJSON(ctx context.Context, key string, v interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, v interface{}) error
	Delete(ctx context.Context, keys ...string) error
}

// Option configures a Store
type Option func(*Store)

// WithMetrics records sync outcomes and discarded responses on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithBackgroundSync controls whether Initialize pushes a locally loaded
// cart to the server. It is on by default.
func WithBackgroundSync(enabled bool) Option {
	return func(s *Store) {
		s.syncOnFallback = enabled
	}
}

// Store owns the cart state of one client
type Store struct {
	api            API
	local          Local
	metrics        *metrics.Metrics
	syncOnFallback bool

	mu      sync.Mutex
	state   State
	seq     uint64
	closed  bool
	subs    map[int]chan State
	nextSub int

	// Item mutations hold clearMu for reading; ClearCart and Checkout hold
	// it for writing so they never interleave with a line edit.
	clearMu sync.RWMutex
	items   keyedMutex

	persistMu sync.Mutex
	persisted uint64

	bg     *backgroundSync
	ctx    context.Context
	cancel context.CancelFunc
}

// NewStore creates a store backed by the given API and local storage
func NewStore(cartAPI API, local Local, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		api:            cartAPI,
		local:          local,
		syncOnFallback: true,
		subs:           make(map[int]chan State),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bg = newBackgroundSync(s)
	return s
}

// State returns a snapshot of the current state
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel that always holds the latest state. Slow
// readers skip intermediate states. Call the returned func to stop.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State, 1)
	ch <- s.state
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

// next hands out the sequence number for a cart about to be requested
func (s *Store) next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// dispatch applies a and reports whether it changed what is on display.
// Results that arrive after Close are dropped.
func (s *Store) dispatch(a Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatchLocked(a)
}

func (s *Store) dispatchLocked(a Action) bool {
	if s.closed {
		return false
	}
	if Stale(s.state, a) {
		return false
	}
	s.state = Reduce(s.state, a)
	for _, ch := range s.subs {
		publish(ch, s.state)
	}
	return true
}

// publish replaces whatever the subscriber has not read yet
func publish(ch chan State, st State) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}

func (s *Store) fail(op string, err error) error {
	logger.Warn(op+" failed", logger.F("error", err))
	s.dispatch(CartFailure{Message: api.Message(err)})
	return err
}

// apply shows a server cart fetched under seq and writes it behind to local
// storage. It reports false when a newer cart was already shown.
func (s *Store) apply(ctx context.Context, seq uint64, cart *model.Cart) bool {
	if !s.dispatch(CartSuccess{Cart: cart, Seq: seq}) {
		s.metrics.ObserveStaleResponse()
		logger.Debug("Discarding stale cart", logger.F("seq", seq))
		return false
	}
	s.persist(ctx, seq, cart)
	return true
}

func (s *Store) clear(ctx context.Context) {
	seq := s.next()
	if s.dispatch(CartClear{Seq: seq}) {
		s.persist(ctx, seq, nil)
	}
}

// persist writes cart under seq unless a newer one was already written.
// A nil cart removes the local copy.
func (s *Store) persist(ctx context.Context, seq uint64, cart *model.Cart) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if seq <= s.persisted {
		return
	}
	s.persisted = seq

	ctx = context.WithoutCancel(ctx)
	var err error
	if cart == nil {
		err = s.local.Delete(ctx, db.KeyCartData)
	} else {
		err = s.local.SetJSON(ctx, db.KeyCartData, cart)
	}
	if err != nil {
		logger.Warn("Failed to persist cart", logger.F("error", err))
	}
}

// refetch replaces the cart with the server's
func (s *Store) refetch(ctx context.Context, op string) error {
	seq := s.next()
	cart, err := s.api.GetCart(ctx)
	if err != nil {
		return s.fail(op, err)
	}
	s.apply(ctx, seq, cart)
	return nil
}

// mutate runs call and then reloads the whole cart, so totals are always the
// server's. On failure the cart on display is left alone.
func (s *Store) mutate(ctx context.Context, op string, call func(context.Context) error) error {
	s.dispatch(CartStart{})
	defer s.dispatch(CartSettled{})

	if err := call(ctx); err != nil {
		return s.fail(op, err)
	}
	return s.refetch(ctx, op)
}

// lockLine serializes mutations of one line and keeps ClearCart out
func (s *Store) lockLine(key string) func() {
	s.clearMu.RLock()
	unlock := s.items.Lock(key)
	return func() {
		unlock()
		s.clearMu.RUnlock()
	}
}

func invalidQuantity() error {
	return &api.ValidationError{Field: "quantity", Message: "Quantity must be at least 1"}
}

// Source tells where Initialize found the cart
type Source int

const (
	SourceNone Source = iota
	SourceServer
	SourceLocal
)

func (src Source) String() string {
	switch src {
	case SourceServer:
		return "server"
	case SourceLocal:
		return "local"
	default:
		return "none"
	}
}

// Initialize loads the cart from the server. When the server cannot be
// reached the persisted cart is shown instead and a single background sync
// is started to reconcile it.
func (s *Store) Initialize(ctx context.Context) (Source, error) {
	s.dispatch(CartStart{})
	defer s.dispatch(CartSettled{})

	seq := s.next()
	cart, err := s.api.GetCart(ctx)
	if err == nil {
		s.apply(ctx, seq, cart)
		return SourceServer, nil
	}
	if api.IsAuthExpired(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return SourceNone, s.fail("Load cart", err)
	}

	var local model.Cart
	ok, lerr := s.local.GetJSON(ctx, db.KeyCartData, &local)
	if lerr != nil {
		logger.Warn("Failed to read local cart", logger.F("error", lerr))
	}
	if !ok || lerr != nil {
		return SourceNone, s.fail("Load cart", err)
	}

	logger.Info("Server unreachable, showing local cart", logger.F("error", err))
	local.Normalize()
	if !s.dispatch(CartSuccess{Cart: &local, Seq: s.next()}) {
		return SourceNone, nil
	}
	if s.syncOnFallback {
		s.bg.start(local.Clone())
	}
	return SourceLocal, nil
}

// SyncLocal pushes the persisted cart to the server and shows the
// reconciled result. Unlike the background sync, failures are reported.
func (s *Store) SyncLocal(ctx context.Context) error {
	var local model.Cart
	ok, err := s.local.GetJSON(ctx, db.KeyCartData, &local)
	if err != nil {
		return s.fail("Sync cart", err)
	}

	s.dispatch(CartStart{})
	defer s.dispatch(CartSettled{})

	if ok && len(local.Items) > 0 {
		if err := s.api.SyncCart(ctx, &local); err != nil {
			s.metrics.ObserveCartSync(metrics.OutcomeFailure)
			return s.fail("Sync cart", err)
		}
	}
	if err := s.refetch(ctx, "Sync cart"); err != nil {
		s.metrics.ObserveCartSync(metrics.OutcomeFailure)
		return err
	}
	s.metrics.ObserveCartSync(metrics.OutcomeSuccess)
	return nil
}

// AddToCart adds quantity of productID
func (s *Store) AddToCart(ctx context.Context, productID string, quantity int) error {
	if quantity < 1 {
		return s.fail("Add to cart", invalidQuantity())
	}
	unlock := s.lockLine("product:" + productID)
	defer unlock()

	return s.mutate(ctx, "Add to cart", func(ctx context.Context) error {
		_, err := s.api.AddItem(ctx, productID, quantity)
		return err
	})
}

// RemoveFromCart deletes a line
func (s *Store) RemoveFromCart(ctx context.Context, itemID string) error {
	unlock := s.lockLine("item:" + itemID)
	defer unlock()

	return s.mutate(ctx, "Remove from cart", func(ctx context.Context) error {
		return s.api.RemoveItem(ctx, itemID)
	})
}

// UpdateCartItem sets the quantity of a line. A quantity of zero or less
// removes the line.
func (s *Store) UpdateCartItem(ctx context.Context, itemID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveFromCart(ctx, itemID)
	}
	unlock := s.lockLine("item:" + itemID)
	defer unlock()

	return s.mutate(ctx, "Update cart", func(ctx context.Context) error {
		_, err := s.api.UpdateItem(ctx, itemID, quantity)
		return err
	})
}

// ClearCart removes every line, on the server and locally
func (s *Store) ClearCart(ctx context.Context) error {
	s.clearMu.Lock()
	defer s.clearMu.Unlock()

	s.dispatch(CartStart{})
	defer s.dispatch(CartSettled{})

	if err := s.api.ClearCart(ctx); err != nil {
		return s.fail("Clear cart", err)
	}
	s.clear(ctx)
	return nil
}

// RefreshCart reloads the cart from the server
func (s *Store) RefreshCart(ctx context.Context) error {
	s.dispatch(CartStart{})
	defer s.dispatch(CartSettled{})
	return s.refetch(ctx, "Refresh cart")
}

// RefreshCount asks the server for the item count only
func (s *Store) RefreshCount(ctx context.Context) (int, error) {
	n, err := s.api.CartCount(ctx)
	if err != nil {
		return 0, s.fail("Cart count", err)
	}
	s.dispatch(CartUpdateCount{Count: n})
	return n, nil
}

// GetCartSummary returns the server-computed totals
func (s *Store) GetCartSummary(ctx context.Context) (*model.CartSummary, error) {
	summary, err := s.api.CartSummary(ctx)
	if err != nil {
		return nil, s.fail("Cart summary", err)
	}
	return summary, nil
}

// MergeLocal asks the server to fold the guest cart into the signed-in
// user's cart and shows the result. Call it right after login.
func (s *Store) MergeLocal(ctx context.Context) error {
	s.dispatch(CartStart{})
	defer s.dispatch(CartSettled{})

	seq := s.next()
	cart, err := s.api.MergeCart(ctx)
	if err != nil {
		return s.fail("Merge cart", err)
	}
	s.apply(ctx, seq, cart)
	return nil
}

// ApplyDiscount applies a discount code and returns what it is worth
func (s *Store) ApplyDiscount(ctx context.Context, code string) (*model.DiscountResult, error) {
	if code == "" {
		return nil, s.fail("Apply discount", &api.ValidationError{Field: "code", Message: "Discount code is required"})
	}
	res, err := s.api.ApplyDiscount(ctx, code)
	if err != nil {
		return nil, s.fail("Apply discount", err)
	}
	return res, nil
}

// RemoveDiscount drops the applied discount code
func (s *Store) RemoveDiscount(ctx context.Context) error {
	if err := s.api.RemoveDiscount(ctx); err != nil {
		return s.fail("Remove discount", err)
	}
	return nil
}

// ValidateCart checks the cart against current stock
func (s *Store) ValidateCart(ctx context.Context) (*model.CartValidation, error) {
	v, err := s.api.ValidateCart(ctx)
	if err != nil {
		return nil, s.fail("Validate cart", err)
	}
	return v, nil
}

// EstimateShipping quotes shipping for the cart to dest
func (s *Store) EstimateShipping(ctx context.Context, dest model.ShippingDestination) (*model.ShippingQuote, error) {
	if err := api.Validate(dest); err != nil {
		return nil, s.fail("Estimate shipping", err)
	}
	q, err := s.api.EstimateShipping(ctx, dest)
	if err != nil {
		return nil, s.fail("Estimate shipping", err)
	}
	return q, nil
}

// Checkout places the order. On success the cart is emptied in memory and in
// local storage.
func (s *Store) Checkout(ctx context.Context, data model.CheckoutData) (*model.CheckoutResult, error) {
	if err := api.Validate(data); err != nil {
		return nil, s.fail("Checkout", err)
	}

	s.clearMu.Lock()
	defer s.clearMu.Unlock()

	s.dispatch(CartStart{})
	defer s.dispatch(CartSettled{})

	res, err := s.api.Checkout(ctx, data)
	if err != nil {
		return nil, s.fail("Checkout", err)
	}
	s.clear(ctx)
	logger.Info("Order placed", logger.F("order_id", res.OrderID))
	return res, nil
}

// ClearError dismisses the current error. The cart stays as it is.
func (s *Store) ClearError() {
	s.dispatch(ClearError{})
}

// Reset forgets the cart, in memory and in local storage. It is meant to run
// when the session ends.
func (s *Store) Reset() {
	s.clear(context.Background())
	s.dispatch(ClearError{})
}

// Syncing reports whether a background sync is in progress
func (s *Store) Syncing() bool {
	return s.bg.isRunning()
}

// Wait blocks until background work has finished
func (s *Store) Wait() {
	s.bg.wait()
}

// Close stops background work and ends subscriptions. Results arriving
// afterwards are discarded.
func (s *Store) Close() {
	s.cancel()

	s.mu.Lock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	s.bg.wait()
}
