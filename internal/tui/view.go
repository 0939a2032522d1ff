package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/existflow/ecofinds/internal/model"
)

const (
	titleWidth = 30
	listWidth  = 64
)

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	header := m.renderHeader()
	statusBar := m.renderStatusBar()
	bodyHeight := m.height - lipgloss.Height(header) - lipgloss.Height(statusBar)
	if bodyHeight < 1 {
		bodyHeight = 1
	}

	var body string
	switch m.mode {
	case ModeAddItem, ModeConfirmClear, ModeSummary:
		body = lipgloss.Place(
			m.width, bodyHeight,
			lipgloss.Center, lipgloss.Center,
			m.renderModal(),
			lipgloss.WithWhitespaceChars(" "),
		)
	case ModeHelp:
		body = lipgloss.Place(m.width, bodyHeight, lipgloss.Center, lipgloss.Center, m.renderHelp())
	default:
		body = m.styles.List.Width(m.width).Height(bodyHeight).Render(m.renderCart())
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, statusBar)
}

func (m Model) renderHeader() string {
	title := m.styles.Header.Render("EcoFinds")
	badge := m.styles.Badge.Render(fmt.Sprintf("🛒 %d", m.cart.CartCount))

	who := "not signed in"
	if m.sess.IsAuthenticated {
		who = m.sess.User.DisplayName()
	}
	left := lipgloss.JoinHorizontal(lipgloss.Center, title, m.styles.Help.Render(who))

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(badge)
	if gap < 1 {
		gap = 1
	}
	line := left + strings.Repeat(" ", gap) + badge

	if msg := m.errorBanner(); msg != "" {
		line += "\n" + m.styles.Error.Render("⚠ "+msg+"  (esc to dismiss)")
	}
	return line
}

// errorBanner prefers the session error since it usually explains the cart one
func (m Model) errorBanner() string {
	if m.sess.Error != "" {
		return m.sess.Error
	}
	return m.cart.Error
}

func (m Model) renderCart() string {
	if !m.sess.IsAuthenticated {
		return m.styles.Help.Render(msgNotLoggedIn)
	}

	items := m.items()
	if len(items) == 0 {
		if m.cart.IsLoading {
			return m.styles.Help.Render("Loading cart...")
		}
		return m.styles.Help.Render("Your cart is empty. Press a to add a product by ID.")
	}

	var s strings.Builder
	rule := m.styles.Rule.Render(strings.Repeat("─", listWidth))

	s.WriteString(m.styles.Header.Render(fmt.Sprintf("Cart (%s)", plural(model.TotalItems(m.cart.Cart), "item", "items"))))
	s.WriteString("\n" + rule + "\n")

	for i, item := range items {
		cursor := "  "
		style := m.styles.Item
		if i == m.cursor {
			cursor = "❯ "
			style = m.styles.ItemSelected
		}

		line := fmt.Sprintf("%s%-*s %3d × %9s %10s",
			cursor,
			titleWidth, truncate(item.Product.Title, titleWidth),
			item.Quantity,
			money(item.Product.Price),
			money(item.Subtotal()),
		)
		s.WriteString(style.Render(line) + "\n")

		if detail := itemDetail(item); detail != "" {
			s.WriteString(m.styles.Help.Render("     "+detail) + "\n")
		}
	}

	s.WriteString(rule + "\n")
	s.WriteString(pad("Total", m.styles.Price.Render(money(model.TotalPrice(m.cart.Cart))), listWidth) + "\n")
	if saved := model.Savings(m.cart.Cart); saved > 0 {
		s.WriteString(m.styles.Savings.Render(pad("You save", money(saved), listWidth)) + "\n")
	}
	return s.String()
}

// itemDetail lists the variant and seller of a line, if any
func itemDetail(item model.CartItem) string {
	var parts []string
	if item.Product.Size != "" {
		parts = append(parts, "size "+item.Product.Size)
	}
	if item.Product.Color != "" {
		parts = append(parts, item.Product.Color)
	}
	if item.Product.Seller.Username != "" {
		parts = append(parts, "by "+item.Product.Seller.Username)
	}
	return strings.Join(parts, " · ")
}

func (m Model) renderStatusBar() string {
	help := "a:add  +/-:qty  d:remove  c:clear  s:summary  r:refresh  ?:help  q:quit"
	if m.message != "" {
		help = m.message
	}

	var right []string
	switch {
	case m.carts.Syncing():
		right = append(right, m.styles.Notice.Render("Syncing..."))
	case m.cart.IsLoading:
		right = append(right, m.styles.Notice.Render("Working..."))
	}
	if m.showMetrics {
		right = append(right, fmt.Sprintf("req %.0f  refresh %.0f  stale %.0f",
			m.metrics.Total("ecofinds_api_requests_total"),
			m.metrics.Total("ecofinds_auth_token_refreshes_total"),
			m.metrics.Total("ecofinds_cart_stale_responses_total"),
		))
	}

	line := help
	if len(right) > 0 {
		r := strings.Join(right, "  ")
		gap := m.width - lipgloss.Width(help) - lipgloss.Width(r) - 2
		if gap < 1 {
			gap = 1
		}
		line = help + strings.Repeat(" ", gap) + r
	}
	return m.styles.StatusBar.Width(m.width).Render(line)
}

func (m Model) renderModal() string {
	var content string
	switch m.mode {
	case ModeAddItem:
		content = lipgloss.NewStyle().Bold(true).Render("Add to cart") + "\n\n"
		content += m.input.View() + "\n\n"
		content += m.styles.Help.Render("Enter:add  Esc:cancel")

	case ModeConfirmClear:
		content = lipgloss.NewStyle().Bold(true).Render("Clear cart?") + "\n\n"
		content += fmt.Sprintf("All %s will be removed.", plural(len(m.items()), "line", "lines")) + "\n\n"
		content += m.styles.Help.Render("y:clear  n:keep")

	case ModeSummary:
		content = lipgloss.NewStyle().Bold(true).Render("Order summary") + "\n\n"
		content += m.renderSummary() + "\n\n"
		content += m.styles.Help.Render("Press any key to close")
	}
	return m.styles.Modal.Render(content)
}

func (m Model) renderSummary() string {
	s := m.summary
	if s == nil {
		return m.styles.Help.Render("No summary available")
	}
	const w = 28
	shipping := money(s.Shipping)
	if s.Shipping == 0 {
		shipping = "free"
	}
	lines := []string{
		pad("Subtotal", money(s.Subtotal), w),
		pad("Shipping", shipping, w),
		pad("Tax", money(s.Tax), w),
		m.styles.Rule.Render(strings.Repeat("─", w)),
		pad("Total", m.styles.Price.Render(money(s.Total)), w),
	}
	if s.EstimatedDelivery != "" {
		lines = append(lines, "", m.styles.Help.Render("Delivery: "+s.EstimatedDelivery))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderHelp() string {
	help := `
╭─── Keyboard Shortcuts ───╮
│                          │
│  Navigation              │
│  ──────────              │
│  j/↓    Move down        │
│  k/↑    Move up          │
│  g/G    Top / bottom     │
│                          │
│  Cart                    │
│  ────                    │
│  a      Add product      │
│  +/-    Change quantity  │
│  d      Remove line      │
│  c      Clear cart       │
│  s      Order summary    │
│  r      Refresh          │
│                          │
│  Other                   │
│  ─────                   │
│  esc    Dismiss error    │
│  L      Logout           │
│  ?      Toggle help      │
│  q      Quit             │
│                          │
╰──────────────────────────╯

     Press any key to close
`
	return m.styles.Help.Render(help)
}
