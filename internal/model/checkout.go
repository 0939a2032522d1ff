package model

// Address is a shipping or billing address
type Address struct {
	FullName   string `json:"fullName" validate:"required"`
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required"`
	Phone      string `json:"phone,omitempty"`
}

// PaymentMethod identifies how the order is paid
type PaymentMethod struct {
	Type    string `json:"type" validate:"required,oneof=card paypal cash_on_delivery"`
	TokenID string `json:"tokenId,omitempty"`
}

// CheckoutData is the body of POST /cart/checkout
type CheckoutData struct {
	ShippingAddress Address       `json:"shippingAddress" validate:"required"`
	BillingAddress  *Address      `json:"billingAddress,omitempty"`
	PaymentMethod   PaymentMethod `json:"paymentMethod" validate:"required"`
	Notes           string        `json:"notes,omitempty"`
}

// CheckoutResult is returned by a successful checkout
type CheckoutResult struct {
	OrderID         string `json:"orderId"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	ClientSecret    string `json:"clientSecret,omitempty"`
}

// DiscountResult is returned when a discount code is applied
type DiscountResult struct {
	Discount float64 `json:"discount"`
	Message  string  `json:"message"`
}

// CartValidation reports availability problems with the cart contents
type CartValidation struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ShippingQuote is returned by POST /cart/shipping
type ShippingQuote struct {
	Shipping      float64 `json:"shipping"`
	EstimatedDays int     `json:"estimatedDays"`
	Carrier       string  `json:"carrier"`
}

// ShippingDestination is the body of POST /cart/shipping
type ShippingDestination struct {
	City    string `json:"city" validate:"required"`
	State   string `json:"state"`
	Country string `json:"country" validate:"required"`
}
