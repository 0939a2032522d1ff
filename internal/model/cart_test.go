package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCart() *Cart {
	return &Cart{
		ID: "c1",
		Items: []CartItem{
			{ID: "i1", ProductID: "p1", Quantity: 2, Product: CartProduct{ID: "p1", Price: 10, OriginalPrice: 15}},
			{ID: "i2", ProductID: "p2", Quantity: 1, Product: CartProduct{ID: "p2", Price: 4.5}},
		},
	}
}

func TestDerivedTotals(t *testing.T) {
	c := testCart()

	assert.Equal(t, 3, TotalItems(c))
	assert.InDelta(t, 24.5, TotalPrice(c), 0.0001)
	assert.InDelta(t, 10.0, Savings(c), 0.0001)
}

func TestDerivedTotals_NilCart(t *testing.T) {
	assert.Zero(t, TotalItems(nil))
	assert.Zero(t, TotalPrice(nil))
	assert.Zero(t, Savings(nil))
	assert.False(t, IsInCart(nil, "p1"))
}

func TestItemForProduct(t *testing.T) {
	c := testCart()

	it, ok := ItemForProduct(c, "p2")
	require.True(t, ok)
	assert.Equal(t, "i2", it.ID)

	assert.True(t, IsInCart(c, "p1"))
	assert.False(t, IsInCart(c, "p9"))
}

func TestNormalize(t *testing.T) {
	c := testCart()
	c.TotalItems = 99
	c.TotalPrice = 1

	c.Normalize()

	assert.Equal(t, 3, c.TotalItems)
	assert.InDelta(t, 24.5, c.TotalPrice, 0.0001)
}

func TestClone_IsIndependent(t *testing.T) {
	c := testCart()
	c.Items[0].Product.Images = []string{"a.png"}

	cp := c.Clone()
	cp.Items[0].Quantity = 7
	cp.Items[0].Product.Images[0] = "b.png"

	assert.Equal(t, 2, c.Items[0].Quantity)
	assert.Equal(t, "a.png", c.Items[0].Product.Images[0])
	assert.Nil(t, (*Cart)(nil).Clone())
}

func TestUserDisplayName(t *testing.T) {
	tests := []struct {
		name string
		user *User
		want string
	}{
		{"nil", nil, ""},
		{"full name", &User{FirstName: "Ada", LastName: "Lovelace", Username: "ada"}, "Ada Lovelace"},
		{"first only", &User{FirstName: "Ada"}, "Ada"},
		{"username", &User{Username: "ada", Email: "a@b.com"}, "ada"},
		{"email", &User{Email: "a@b.com"}, "a@b.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.user.DisplayName())
		})
	}
}

func TestProfileUpdateApply(t *testing.T) {
	u := &User{FirstName: "Ada", Bio: "old"}
	bio := "new"

	ProfileUpdate{Bio: &bio}.Apply(u)

	assert.Equal(t, "Ada", u.FirstName)
	assert.Equal(t, "new", u.Bio)
}
