package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/existflow/ecofinds/internal/api"
	"github.com/existflow/ecofinds/internal/model"
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Place an order for the cart",
	Long: `Place an order for everything in the cart.

Examples:
  ecofinds cart checkout --name "Ada L" --street "1 Loop Rd" --city London \
    --postal-code N1 --country GB --payment card`,
	RunE: runCheckout,
}

var checkoutInput struct {
	address model.Address
	payment string
	token   string
	notes   string
}

func init() {
	f := checkoutCmd.Flags()
	f.StringVar(&checkoutInput.address.FullName, "name", "", "Recipient name")
	f.StringVar(&checkoutInput.address.Street, "street", "", "Street address")
	f.StringVar(&checkoutInput.address.City, "city", "", "City")
	f.StringVar(&checkoutInput.address.State, "state", "", "State or region")
	f.StringVar(&checkoutInput.address.PostalCode, "postal-code", "", "Postal code")
	f.StringVar(&checkoutInput.address.Country, "country", "", "Country code")
	f.StringVar(&checkoutInput.address.Phone, "phone", "", "Contact phone")
	f.StringVar(&checkoutInput.payment, "payment", "card", "Payment method (card, paypal, cash_on_delivery)")
	f.StringVar(&checkoutInput.token, "payment-token", "", "Payment provider token")
	f.StringVar(&checkoutInput.notes, "notes", "", "Notes for the seller")
}

func runCheckout(cmd *cobra.Command, args []string) error {
	data := model.CheckoutData{
		ShippingAddress: checkoutInput.address,
		PaymentMethod:   model.PaymentMethod{Type: checkoutInput.payment, TokenID: checkoutInput.token},
		Notes:           checkoutInput.notes,
	}
	if err := api.Validate(data); err != nil {
		return userError{err}
	}

	return withSession(cmd, func(ctx context.Context, app *App) error {
		if v, err := app.Cart.ValidateCart(ctx); err == nil && !v.IsValid {
			for _, e := range v.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "❌ %s\n", e)
			}
			return fmt.Errorf("cart has unavailable items")
		}

		fmt.Fprintln(cmd.OutOrStdout(), "🔄 Placing order...")
		res, err := app.Cart.Checkout(ctx, data)
		if err != nil {
			return userError{err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Order %s placed\n", res.OrderID)
		return nil
	})
}
