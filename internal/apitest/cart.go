package apitest

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/existflow/ecofinds/internal/model"
)

const (
	freeShippingThreshold = 50.0
	flatShipping          = 5.99
	taxRate               = 0.08
)

// AddProduct puts p in the catalog
func (s *Server) AddProduct(p model.CartProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// Cart returns a copy of the user's server cart
func (s *Server) Cart(userID string) *model.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartLocked(userID).Clone()
}

// cartLocked returns the user's cart with fresh totals, creating it if needed
func (s *Server) cartLocked(userID string) *model.Cart {
	c, ok := s.carts[userID]
	if !ok {
		now := time.Now().UTC()
		c = &model.Cart{ID: uuid.NewString(), UserID: userID, Items: []model.CartItem{}, CreatedAt: now, UpdatedAt: now}
		s.carts[userID] = c
	}
	c.Normalize()
	c.TotalPrice = round2(c.TotalPrice)
	return c
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *Server) addLocked(userID, productID string, quantity int) (*model.CartItem, error) {
	product, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s not found", productID)
	}

	cart := s.cartLocked(userID)
	cart.UpdatedAt = time.Now().UTC()
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items[i].Quantity += quantity
			item := cart.Items[i]
			return &item, nil
		}
	}

	item := model.CartItem{
		ID:        uuid.NewString(),
		ProductID: productID,
		Product:   product,
		Quantity:  quantity,
		AddedAt:   time.Now().UTC(),
	}
	cart.Items = append(cart.Items, item)
	return &item, nil
}

func (s *Server) handleGetCart(c echo.Context) error {
	userID := c.Get("user_id").(string)

	s.mu.Lock()
	cart := s.cartLocked(userID).Clone()
	s.mu.Unlock()

	return c.JSON(http.StatusOK, cart)
}

func (s *Server) handleClearCart(c echo.Context) error {
	userID := c.Get("user_id").(string)

	s.mu.Lock()
	cart := s.cartLocked(userID)
	cart.Items = []model.CartItem{}
	delete(s.applied, userID)
	s.mu.Unlock()

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAddItem(c echo.Context) error {
	userID := c.Get("user_id").(string)

	var req struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil || req.ProductID == "" {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}
	if req.Quantity < 1 {
		return jsonError(c, http.StatusBadRequest, "quantity must be at least 1")
	}

	s.mu.Lock()
	item, err := s.addLocked(userID, req.ProductID, req.Quantity)
	s.mu.Unlock()
	if err != nil {
		return jsonError(c, http.StatusNotFound, "Product not found")
	}

	return c.JSON(http.StatusCreated, item)
}

func (s *Server) handleUpdateItem(c echo.Context) error {
	userID := c.Get("user_id").(string)
	itemID := c.Param("id")

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}
	if req.Quantity < 1 {
		return jsonError(c, http.StatusBadRequest, "quantity must be at least 1")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartLocked(userID)
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			cart.Items[i].Quantity = req.Quantity
			cart.UpdatedAt = time.Now().UTC()
			return c.JSON(http.StatusOK, cart.Items[i])
		}
	}
	return jsonError(c, http.StatusNotFound, "Cart item not found")
}

func (s *Server) handleRemoveItem(c echo.Context) error {
	userID := c.Get("user_id").(string)
	itemID := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartLocked(userID)
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			cart.UpdatedAt = time.Now().UTC()
			return c.NoContent(http.StatusNoContent)
		}
	}
	return jsonError(c, http.StatusNotFound, "Cart item not found")
}

func (s *Server) summaryLocked(userID string) model.CartSummary {
	cart := s.cartLocked(userID)
	subtotal := cart.TotalPrice
	if code, ok := s.applied[userID]; ok {
		subtotal = round2(subtotal * (1 - s.discounts[code]))
	}

	shipping := flatShipping
	if subtotal >= freeShippingThreshold || len(cart.Items) == 0 {
		shipping = 0
	}
	tax := round2(subtotal * taxRate)

	return model.CartSummary{
		Subtotal:          subtotal,
		Shipping:          shipping,
		Tax:               tax,
		Total:             round2(subtotal + shipping + tax),
		EstimatedDelivery: "3-5 business days",
	}
}

func (s *Server) handleSummary(c echo.Context) error {
	userID := c.Get("user_id").(string)

	s.mu.Lock()
	summary := s.summaryLocked(userID)
	s.mu.Unlock()

	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleCount(c echo.Context) error {
	userID := c.Get("user_id").(string)

	s.mu.Lock()
	count := s.cartLocked(userID).TotalItems
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

// handleSync adds lines from an uploaded local cart that the server cart lacks
func (s *Server) handleSync(c echo.Context) error {
	userID := c.Get("user_id").(string)

	var local model.Cart
	if err := c.Bind(&local); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid cart")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartLocked(userID)
	for _, it := range local.Items {
		if model.IsInCart(cart, it.ProductID) || it.Quantity < 1 {
			continue
		}
		if _, err := s.addLocked(userID, it.ProductID, it.Quantity); err != nil {
			continue
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMerge(c echo.Context) error {
	userID := c.Get("user_id").(string)

	s.mu.Lock()
	cart := s.cartLocked(userID).Clone()
	s.mu.Unlock()

	return c.JSON(http.StatusOK, cart)
}

func (s *Server) handleApplyDiscount(c echo.Context) error {
	userID := c.Get("user_id").(string)

	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rate, ok := s.discounts[req.Code]
	if !ok {
		return jsonError(c, http.StatusBadRequest, "Invalid discount code")
	}
	s.applied[userID] = req.Code
	discount := round2(s.cartLocked(userID).TotalPrice * rate)

	return c.JSON(http.StatusOK, model.DiscountResult{
		Discount: discount,
		Message:  fmt.Sprintf("%s applied", req.Code),
	})
}

func (s *Server) handleRemoveDiscount(c echo.Context) error {
	userID := c.Get("user_id").(string)

	s.mu.Lock()
	delete(s.applied, userID)
	s.mu.Unlock()

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleValidate(c echo.Context) error {
	userID := c.Get("user_id").(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	result := model.CartValidation{IsValid: true, Errors: []string{}, Warnings: []string{}}
	for _, it := range s.cartLocked(userID).Items {
		if _, ok := s.products[it.ProductID]; !ok {
			result.IsValid = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s is no longer available", it.Product.Title))
		}
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleShipping(c echo.Context) error {
	var dest model.ShippingDestination
	if err := c.Bind(&dest); err != nil || dest.Country == "" {
		return jsonError(c, http.StatusBadRequest, "country is required")
	}

	days := 3
	if dest.Country != "US" {
		days = 7
	}
	return c.JSON(http.StatusOK, model.ShippingQuote{Shipping: flatShipping, EstimatedDays: days, Carrier: "EcoPost"})
}

func (s *Server) handleCheckout(c echo.Context) error {
	userID := c.Get("user_id").(string)

	var data model.CheckoutData
	if err := c.Bind(&data); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartLocked(userID)
	if len(cart.Items) == 0 {
		return jsonError(c, http.StatusBadRequest, "Cart is empty")
	}

	s.orders++
	cart.Items = []model.CartItem{}
	delete(s.applied, userID)

	return c.JSON(http.StatusCreated, model.CheckoutResult{
		OrderID:         fmt.Sprintf("order-%d", s.orders),
		PaymentIntentID: "pi_" + uuid.NewString(),
	})
}
