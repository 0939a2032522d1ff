package api

import (
	"context"
	"net/url"

	"github.com/existflow/ecofinds/internal/model"
)

func itemPath(itemID string) string {
	return "/cart/items/" + url.PathEscape(itemID)
}

// GetCart fetches the full server cart
func (c *Client) GetCart(ctx context.Context) (*model.Cart, error) {
	var cart model.Cart
	if err := c.Get(ctx, "/cart", &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// AddItem adds quantity of productID to the cart
func (c *Client) AddItem(ctx context.Context, productID string, quantity int) (*model.CartItem, error) {
	body := map[string]interface{}{"productId": productID, "quantity": quantity}
	var item model.CartItem
	if err := c.Post(ctx, "/cart/items", body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateItem sets the quantity of a cart line
func (c *Client) UpdateItem(ctx context.Context, itemID string, quantity int) (*model.CartItem, error) {
	var item model.CartItem
	if err := c.Put(ctx, itemPath(itemID), map[string]int{"quantity": quantity}, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// RemoveItem deletes a cart line
func (c *Client) RemoveItem(ctx context.Context, itemID string) error {
	return c.Delete(ctx, itemPath(itemID), nil)
}

// ClearCart deletes every line
func (c *Client) ClearCart(ctx context.Context) error {
	return c.Delete(ctx, "/cart", nil)
}

// CartSummary returns server-computed totals
func (c *Client) CartSummary(ctx context.Context) (*model.CartSummary, error) {
	var s model.CartSummary
	if err := c.Get(ctx, "/cart/summary", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CartCount returns the number of units in the cart
func (c *Client) CartCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.Get(ctx, "/cart/count", &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// SyncCart uploads a locally cached cart for the server to reconcile
func (c *Client) SyncCart(ctx context.Context, cart *model.Cart) error {
	return c.Post(ctx, "/cart/sync", cart, nil)
}

// MergeCart asks the server to merge the guest cart into the user's cart
func (c *Client) MergeCart(ctx context.Context) (*model.Cart, error) {
	var cart model.Cart
	if err := c.Post(ctx, "/cart/merge", nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// ApplyDiscount applies a discount code
func (c *Client) ApplyDiscount(ctx context.Context, code string) (*model.DiscountResult, error) {
	var res model.DiscountResult
	if err := c.Post(ctx, "/cart/discount", map[string]string{"code": code}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RemoveDiscount drops the applied discount code
func (c *Client) RemoveDiscount(ctx context.Context) error {
	return c.Delete(ctx, "/cart/discount", nil)
}

// ValidateCart checks the cart contents against stock
func (c *Client) ValidateCart(ctx context.Context) (*model.CartValidation, error) {
	var v model.CartValidation
	if err := c.Get(ctx, "/cart/validate", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// EstimateShipping quotes shipping to dest
func (c *Client) EstimateShipping(ctx context.Context, dest model.ShippingDestination) (*model.ShippingQuote, error) {
	var q model.ShippingQuote
	if err := c.Post(ctx, "/cart/shipping", dest, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// Checkout places the order for the current cart
func (c *Client) Checkout(ctx context.Context, data model.CheckoutData) (*model.CheckoutResult, error) {
	var res model.CheckoutResult
	if err := c.Post(ctx, "/cart/checkout", data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
