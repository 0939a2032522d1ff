package cart

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/existflow/ecofinds/internal/logger"
	"github.com/existflow/ecofinds/internal/model"
)

// txn is one optimistic update, known by the sequence its tentative cart was
// shown under
type txn struct {
	seq uint64
}

// begin shows the result of edit applied to a copy of the current cart
func (s *Store) begin(edit func(c *model.Cart)) txn {
	s.mu.Lock()
	defer s.mu.Unlock()

	tentative := s.state.Cart.Clone()
	if tentative == nil {
		tentative = &model.Cart{}
	}
	edit(tentative)
	tentative.Normalize()

	s.seq++
	t := txn{seq: s.seq}
	s.dispatchLocked(CartOptimistic{Cart: tentative, Seq: t.seq})
	return t
}

// rollback goes back to the newest server cart unless something newer was
// shown meanwhile. Server carts that arrived while t was on display are kept.
func (s *Store) rollback(t txn) {
	if !s.dispatch(CartRollback{Seq: t.seq}) {
		logger.Debug("Skipping rollback, cart moved on", logger.F("seq", t.seq))
	}
}

// AddToCartOptimistic shows product in the cart right away and confirms with
// the server afterwards. If the server refuses, the server's cart comes back.
func (s *Store) AddToCartOptimistic(ctx context.Context, product model.CartProduct, quantity int) error {
	if quantity < 1 {
		return s.fail("Add to cart", invalidQuantity())
	}
	unlock := s.lockLine("product:" + product.ID)
	defer unlock()

	t := s.begin(func(c *model.Cart) {
		for i := range c.Items {
			if c.Items[i].ProductID == product.ID {
				c.Items[i].Quantity += quantity
				return
			}
		}
		c.Items = append(c.Items, model.CartItem{
			ID:        "pending-" + uuid.NewString(),
			ProductID: product.ID,
			Product:   product,
			Quantity:  quantity,
			AddedAt:   time.Now().UTC(),
		})
	})

	if _, err := s.api.AddItem(ctx, product.ID, quantity); err != nil {
		s.rollback(t)
		return s.fail("Add to cart", err)
	}
	return s.refetch(ctx, "Add to cart")
}

// RemoveFromCartOptimistic hides the line right away and restores it if the
// server refuses the removal.
func (s *Store) RemoveFromCartOptimistic(ctx context.Context, itemID string) error {
	unlock := s.lockLine("item:" + itemID)
	defer unlock()

	t := s.begin(func(c *model.Cart) {
		kept := c.Items[:0]
		for _, it := range c.Items {
			if it.ID != itemID {
				kept = append(kept, it)
			}
		}
		c.Items = kept
	})

	if err := s.api.RemoveItem(ctx, itemID); err != nil {
		s.rollback(t)
		return s.fail("Remove from cart", err)
	}
	return s.refetch(ctx, "Remove from cart")
}
