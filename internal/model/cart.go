package model

import "time"

// Seller is the embedded seller reference of a cart product
type Seller struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// CartProduct is the product snapshot carried by a cart item
type CartProduct struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Price         float64  `json:"price"`
	OriginalPrice float64  `json:"originalPrice,omitempty"`
	Images        []string `json:"images,omitempty"`
	Size          string   `json:"size,omitempty"`
	Color         string   `json:"color,omitempty"`
	Seller        Seller   `json:"seller"`
}

// CartItem is one line of the cart
type CartItem struct {
	ID        string      `json:"id"`
	ProductID string      `json:"productId"`
	Product   CartProduct `json:"product"`
	Quantity  int         `json:"quantity"`
	AddedAt   time.Time   `json:"addedAt"`
}

// Subtotal returns price times quantity
func (i CartItem) Subtotal() float64 {
	return i.Product.Price * float64(i.Quantity)
}

// Savings returns the discount against the original price for the whole line
func (i CartItem) Savings() float64 {
	original := i.Product.OriginalPrice
	if original == 0 {
		original = i.Product.Price
	}
	return (original - i.Product.Price) * float64(i.Quantity)
}

// Cart is the user's server-side shopping cart
type Cart struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Items      []CartItem `json:"items"`
	TotalItems int        `json:"totalItems"`
	TotalPrice float64    `json:"totalPrice"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// TotalItems returns the sum of item quantities, zero for a nil cart
func TotalItems(c *Cart) int {
	if c == nil {
		return 0
	}
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// TotalPrice returns the sum of price times quantity, zero for a nil cart
func TotalPrice(c *Cart) float64 {
	if c == nil {
		return 0
	}
	var total float64
	for _, it := range c.Items {
		total += it.Subtotal()
	}
	return total
}

// Savings sums the per-line savings
func Savings(c *Cart) float64 {
	if c == nil {
		return 0
	}
	var total float64
	for _, it := range c.Items {
		total += it.Savings()
	}
	return total
}

// ItemForProduct returns the line holding productID, if any
func ItemForProduct(c *Cart, productID string) (CartItem, bool) {
	if c == nil {
		return CartItem{}, false
	}
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return CartItem{}, false
}

// IsInCart reports whether productID has a line in the cart
func IsInCart(c *Cart, productID string) bool {
	_, ok := ItemForProduct(c, productID)
	return ok
}

// Clone returns a deep copy so callers can edit it without touching shared state
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make([]CartItem, len(c.Items))
	for i, it := range c.Items {
		out.Items[i] = it
		if it.Product.Images != nil {
			out.Items[i].Product.Images = append([]string(nil), it.Product.Images...)
		}
	}
	return &out
}

// Normalize recomputes the aggregate fields from the items.
// Carts received from the server keep the server's aggregates instead.
func (c *Cart) Normalize() {
	if c == nil {
		return
	}
	c.TotalItems = TotalItems(c)
	c.TotalPrice = TotalPrice(c)
}

// CartSummary is returned by GET /cart/summary
type CartSummary struct {
	Subtotal          float64 `json:"subtotal"`
	Shipping          float64 `json:"shipping"`
	Tax               float64 `json:"tax"`
	Total             float64 `json:"total"`
	EstimatedDelivery string  `json:"estimatedDelivery,omitempty"`
}
