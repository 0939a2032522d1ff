package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/existflow/ecofinds/internal/cart"
	"github.com/existflow/ecofinds/internal/model"
)

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "View and edit your shopping cart",
	Long: `View and edit your shopping cart.

Examples:
  ecofinds cart                 # Show the cart
  ecofinds cart add p1 -q 2     # Add two of product p1
  ecofinds cart update 3f2a 1   # Set a line to quantity 1 (0 removes it)
  ecofinds cart discount ECO10  # Apply a discount code`,
	RunE: runCartShow,
}

var cartShowCmd = &cobra.Command{
	Use:     "show",
	Aliases: []string{"ls"},
	Short:   "Show the cart",
	RunE:    runCartShow,
}

var cartAddCmd = &cobra.Command{
	Use:   "add [product-id]",
	Short: "Add a product",
	Args:  cobra.ExactArgs(1),
	RunE:  runCartAdd,
}

var cartUpdateCmd = &cobra.Command{
	Use:   "update [item-id] [quantity]",
	Short: "Set the quantity of a line, 0 removes it",
	Args:  cobra.ExactArgs(2),
	RunE:  runCartUpdate,
}

var cartRemoveCmd = &cobra.Command{
	Use:     "remove [item-id]",
	Aliases: []string{"rm"},
	Short:   "Remove a line",
	Args:    cobra.ExactArgs(1),
	RunE:    runCartRemove,
}

var cartClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every line",
	RunE:  runCartClear,
}

var cartSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show totals with shipping and tax",
	RunE:  runCartSummary,
}

var cartSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push the locally saved cart to the server",
	RunE:  runCartSync,
}

var cartDiscountCmd = &cobra.Command{
	Use:   "discount [code]",
	Short: "Apply a discount code, or remove it with --remove",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCartDiscount,
}

var cartValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the cart against current stock",
	RunE:  runCartValidate,
}

var (
	addQuantity    int
	clearForce     bool
	discountRemove bool
)

func init() {
	cartCmd.AddCommand(cartShowCmd)
	cartCmd.AddCommand(cartAddCmd)
	cartCmd.AddCommand(cartUpdateCmd)
	cartCmd.AddCommand(cartRemoveCmd)
	cartCmd.AddCommand(cartClearCmd)
	cartCmd.AddCommand(cartSummaryCmd)
	cartCmd.AddCommand(cartSyncCmd)
	cartCmd.AddCommand(cartDiscountCmd)
	cartCmd.AddCommand(cartValidateCmd)
	cartCmd.AddCommand(checkoutCmd)

	cartAddCmd.Flags().IntVarP(&addQuantity, "quantity", "q", 1, "How many to add")
	cartClearCmd.Flags().BoolVar(&clearForce, "force", false, "Do not ask for confirmation")
	cartDiscountCmd.Flags().BoolVar(&discountRemove, "remove", false, "Remove the applied code")
}

// loadCart restores the session and the cart, reporting where it came from
func loadCart(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	return withSession(cmd, func(ctx context.Context, app *App) error {
		src, err := app.Cart.Initialize(ctx)
		if err != nil {
			return userError{err}
		}
		if src == cart.SourceLocal {
			fmt.Fprintln(cmd.OutOrStdout(), "⚠️  Server unreachable, showing your saved cart")
		}
		return fn(ctx, app)
	})
}

func runCartShow(cmd *cobra.Command, args []string) error {
	return loadCart(cmd, func(ctx context.Context, app *App) error {
		// Give the reconciliation a chance to land before printing
		app.Cart.Wait()
		printCart(cmd.OutOrStdout(), app.Cart.State().Cart)
		return nil
	})
}

func runCartAdd(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, app *App) error {
		if err := app.Cart.AddToCart(ctx, args[0], addQuantity); err != nil {
			return userError{err}
		}
		c := app.Cart.State().Cart
		it, _ := model.ItemForProduct(c, args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Added %d × %s (%d in cart)\n", addQuantity, productLabel(it), model.TotalItems(c))
		return nil
	})
}

func runCartUpdate(cmd *cobra.Command, args []string) error {
	qty, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("quantity must be a number: %w", err)
	}

	return withSession(cmd, func(ctx context.Context, app *App) error {
		it, err := resolveItem(ctx, app, args[0])
		if err != nil {
			return err
		}
		if err := app.Cart.UpdateCartItem(ctx, it.ID, qty); err != nil {
			return userError{err}
		}
		if qty <= 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %s\n", productLabel(it))
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Set %s to %d\n", productLabel(it), qty)
		}
		return nil
	})
}

func runCartRemove(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, app *App) error {
		it, err := resolveItem(ctx, app, args[0])
		if err != nil {
			return err
		}
		if err := app.Cart.RemoveFromCart(ctx, it.ID); err != nil {
			return userError{err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %s\n", productLabel(it))
		return nil
	})
}

func runCartClear(cmd *cobra.Command, args []string) error {
	ask := !clearForce && (appConfig == nil || appConfig.ConfirmClear)
	if ask && !newPrompter(cmd).confirm("Remove everything from your cart?") {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return nil
	}

	return withSession(cmd, func(ctx context.Context, app *App) error {
		fmt.Fprintln(cmd.OutOrStdout(), "🧹 Clearing cart...")
		if err := app.Cart.ClearCart(ctx); err != nil {
			return userError{err}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cart cleared.")
		return nil
	})
}

func runCartSummary(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, app *App) error {
		s, err := app.Cart.GetCartSummary(ctx)
		if err != nil {
			return userError{err}
		}
		printSummary(cmd.OutOrStdout(), s)
		return nil
	})
}

func runCartSync(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, app *App) error {
		fmt.Fprintln(cmd.OutOrStdout(), "🔄 Syncing...")
		if err := app.Cart.SyncLocal(ctx); err != nil {
			return userError{err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Synced (%d in cart)\n", app.Cart.State().CartCount)
		return nil
	})
}

func runCartDiscount(cmd *cobra.Command, args []string) error {
	if !discountRemove && len(args) == 0 {
		return fmt.Errorf("give a discount code or pass --remove")
	}

	return withSession(cmd, func(ctx context.Context, app *App) error {
		if discountRemove {
			if err := app.Cart.RemoveDiscount(ctx); err != nil {
				return userError{err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Discount removed")
			return nil
		}

		res, err := app.Cart.ApplyDiscount(ctx, strings.ToUpper(args[0]))
		if err != nil {
			return userError{err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🏷️  %s (-$%.2f)\n", res.Message, res.Discount)
		return nil
	})
}

func runCartValidate(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, app *App) error {
		v, err := app.Cart.ValidateCart(ctx)
		if err != nil {
			return userError{err}
		}
		out := cmd.OutOrStdout()
		if v.IsValid {
			fmt.Fprintln(out, "✅ Everything in your cart is available")
		}
		for _, e := range v.Errors {
			fmt.Fprintf(out, "❌ %s\n", e)
		}
		for _, w := range v.Warnings {
			fmt.Fprintf(out, "⚠️  %s\n", w)
		}
		return nil
	})
}

// resolveItem finds the line whose ID starts with prefix, as printed by
// 'cart show'
func resolveItem(ctx context.Context, app *App, prefix string) (model.CartItem, error) {
	if err := app.Cart.RefreshCart(ctx); err != nil {
		return model.CartItem{}, userError{err}
	}

	var (
		found model.CartItem
		n     int
	)
	if c := app.Cart.State().Cart; c != nil {
		for _, it := range c.Items {
			if strings.HasPrefix(it.ID, prefix) {
				found = it
				n++
			}
		}
	}
	switch n {
	case 0:
		return model.CartItem{}, fmt.Errorf("no cart line matches %q", prefix)
	case 1:
		return found, nil
	default:
		return model.CartItem{}, fmt.Errorf("%q matches %d lines, use more characters", prefix, n)
	}
}

func printCart(w io.Writer, c *model.Cart) {
	if c == nil || len(c.Items) == 0 {
		fmt.Fprintln(w, "Your cart is empty. Add something with: ecofinds cart add <product-id>")
		return
	}

	fmt.Fprintf(w, "\n🛒 Cart (%d items)\n", model.TotalItems(c))
	fmt.Fprintln(w, strings.Repeat("─", 64))
	for _, it := range c.Items {
		fmt.Fprintf(w, "  %-8s  %-30s  %3d × $%7.2f  $%8.2f\n",
			shortID(it.ID), truncate(productLabel(it), 30), it.Quantity, it.Product.Price, it.Subtotal())
	}
	fmt.Fprintln(w, strings.Repeat("─", 64))
	fmt.Fprintf(w, "  %-54s$%8.2f\n", "Total", model.TotalPrice(c))
	if saved := model.Savings(c); saved > 0 {
		fmt.Fprintf(w, "  %-54s$%8.2f\n", "You save", saved)
	}
	fmt.Fprintln(w)
}

func printSummary(w io.Writer, s *model.CartSummary) {
	fmt.Fprintf(w, "  Subtotal  $%8.2f\n", s.Subtotal)
	if s.Shipping == 0 {
		fmt.Fprintln(w, "  Shipping      FREE")
	} else {
		fmt.Fprintf(w, "  Shipping  $%8.2f\n", s.Shipping)
	}
	fmt.Fprintf(w, "  Tax       $%8.2f\n", s.Tax)
	fmt.Fprintf(w, "  Total     $%8.2f\n", s.Total)
	if s.EstimatedDelivery != "" {
		fmt.Fprintf(w, "  Delivery in %s\n", s.EstimatedDelivery)
	}
}

func productLabel(it model.CartItem) string {
	if it.Product.Title != "" {
		return it.Product.Title
	}
	return it.ProductID
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
