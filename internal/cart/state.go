// Package cart keeps the client's view of the shopping cart in step with the
// server.
//
// Every cart the store applies carries a sequence number taken before the
// request that produced it was sent. Reduce drops server carts older than the
// newest one received, so responses may arrive in any order.
//
// Optimistic carts sit on top of the newest server cart. They are ordered
// against what is on display, never against server carts: a server cart
// requested before a tentative one still becomes the base a rollback returns
// to.
package cart

import "github.com/existflow/ecofinds/internal/model"

// State is the cart as seen by views
type State struct {
	Cart      *model.Cart
	IsLoading bool
	Error     string
	CartCount int

	pending int         // operations in flight
	applied uint64      // sequence of the newest server cart
	base    *model.Cart // newest server cart
	shown   uint64      // sequence of the cart on display
}

// Version returns the sequence number of the cart on display
func (s State) Version() uint64 {
	return s.shown
}

// Action is one of the cart transitions below
type Action interface {
	cartAction()
}

// CartStart marks an operation in flight
type CartStart struct{}

// CartSettled marks an operation finished, whatever its outcome
type CartSettled struct{}

// CartSuccess shows a cart fetched from the server
type CartSuccess struct {
	Cart *model.Cart
	Seq  uint64
}

// CartFailure records an error. The cart on display is kept.
type CartFailure struct {
	Message string
}

// CartClear empties the cart
type CartClear struct {
	Seq uint64
}

// CartUpdateCount replaces the item count, as reported by the server
type CartUpdateCount struct {
	Count int
}

// ClearError dismisses the current error
type ClearError struct{}

// CartOptimistic shows a tentative cart before the server confirms it
type CartOptimistic struct {
	Cart *model.Cart
	Seq  uint64
}

// CartRollback drops the tentative cart with the same Seq and shows the
// newest server cart again. It does nothing once a newer cart has been shown.
type CartRollback struct {
	Seq uint64
}

func (CartStart) cartAction()       {}
func (CartSettled) cartAction()     {}
func (CartSuccess) cartAction()     {}
func (CartFailure) cartAction()     {}
func (CartClear) cartAction()       {}
func (CartUpdateCount) cartAction() {}
func (ClearError) cartAction()      {}
func (CartOptimistic) cartAction()  {}
func (CartRollback) cartAction()    {}

// Stale reports whether a would be discarded by Reduce because something
// newer was already received.
func Stale(s State, a Action) bool {
	switch a := a.(type) {
	case CartSuccess:
		return a.Seq <= s.applied
	case CartClear:
		return a.Seq <= s.applied
	case CartOptimistic:
		return a.Seq <= s.shown
	case CartRollback:
		return a.Seq != s.shown
	}
	return false
}

// Reduce returns the state after applying a to s
func Reduce(s State, a Action) State {
	if Stale(s, a) {
		return s
	}

	switch a := a.(type) {
	case CartStart:
		s.pending++
		s.Error = ""
	case CartSettled:
		if s.pending > 0 {
			s.pending--
		}
	case CartSuccess:
		s = s.receive(a.Cart, a.Seq)
		s.Error = ""
	case CartFailure:
		s.Error = a.Message
	case CartClear:
		s = s.receive(nil, a.Seq)
	case CartUpdateCount:
		s.CartCount = a.Count
	case ClearError:
		s.Error = ""
	case CartOptimistic:
		s = s.show(a.Cart, a.Seq)
	case CartRollback:
		s = s.show(s.base, s.applied)
	}

	s.IsLoading = s.pending > 0
	return s
}

// receive records a server cart and shows it unless a newer tentative cart
// is on display
func (s State) receive(cart *model.Cart, seq uint64) State {
	s.base = cart
	s.applied = seq
	if seq > s.shown {
		s = s.show(cart, seq)
	}
	return s
}

func (s State) show(cart *model.Cart, seq uint64) State {
	s.Cart = cart
	s.CartCount = model.TotalItems(cart)
	s.shown = seq
	return s
}
