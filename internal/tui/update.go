package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/existflow/ecofinds/internal/api"
	"github.com/existflow/ecofinds/internal/cart"
	"github.com/existflow/ecofinds/internal/logger"
	"github.com/existflow/ecofinds/internal/model"
	"github.com/existflow/ecofinds/internal/session"
)

const msgNotLoggedIn = "Not logged in. Run 'ecofinds auth login' first."

// tickMsg is sent every second so the footer picks up sync progress
type tickMsg time.Time

// sessionMsg carries a new session snapshot
type sessionMsg session.State

// cartMsg carries a new cart snapshot
type cartMsg cart.State

// initMsg reports where the first cart came from
type initMsg struct {
	source cart.Source
	err    error
}

// opMsg reports a finished cart or session operation
type opMsg struct {
	note string
	err  error
}

// summaryMsg carries the server's price breakdown
type summaryMsg struct {
	summary *model.CartSummary
	err     error
}

// Init starts the ticker, both subscriptions and, for a signed in user, the
// first cart load
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitSession(m.sessionCh), waitCart(m.cartCh), m.initCartIfSignedIn())
}

func tickCmd() tea.Cmd {
	return tea.Every(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitSession blocks for the next session snapshot. A closed channel ends
// the loop.
func waitSession(ch <-chan session.State) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return nil
		}
		return sessionMsg(st)
	}
}

func waitCart(ch <-chan cart.State) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return nil
		}
		return cartMsg(st)
	}
}

func (m Model) initCartIfSignedIn() tea.Cmd {
	if !m.sess.IsAuthenticated {
		return nil
	}
	return m.initCart()
}

func (m Model) initCart() tea.Cmd {
	ctx, carts := m.ctx, m.carts
	return func() tea.Msg {
		src, err := carts.Initialize(ctx)
		return initMsg{source: src, err: err}
	}
}

// run executes op off the UI goroutine and reports note on success
func (m Model) run(note string, op func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opMsg{note: note, err: op(ctx)}
	}
}

func (m Model) fetchSummary() tea.Cmd {
	ctx, carts := m.ctx, m.carts
	return func() tea.Msg {
		s, err := carts.GetCartSummary(ctx)
		return summaryMsg{summary: s, err: err}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tickCmd()

	case sessionMsg:
		prev := m.sess
		m.sess = session.State(msg)
		if prev.IsAuthenticated && !m.sess.IsAuthenticated {
			m.summary = nil
			m.source = cart.SourceNone
			if m.sess.Error != "" {
				m.message = m.sess.Error
			} else {
				m.message = "Signed out"
			}
		}
		return m, waitSession(m.sessionCh)

	case cartMsg:
		m.cart = cart.State(msg)
		m.clampCursor()
		return m, waitCart(m.cartCh)

	case initMsg:
		m.source = msg.source
		switch {
		case msg.err != nil:
			m.message = api.Message(msg.err)
		case msg.source == cart.SourceLocal:
			m.message = "Offline: showing the cart saved on this device"
		}
		return m, nil

	case opMsg:
		if msg.err != nil {
			logger.Debug("TUI operation failed", logger.F("error", msg.err))
			m.message = api.Message(msg.err)
		} else {
			m.message = msg.note
		}
		return m, nil

	case summaryMsg:
		if msg.err != nil {
			m.message = api.Message(msg.err)
			return m, nil
		}
		m.summary = msg.summary
		m.mode = ModeSummary
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case ModeAddItem:
			return m.updateInput(msg)
		case ModeConfirmClear:
			return m.updateConfirm(msg)
		case ModeSummary, ModeHelp:
			m.mode = ModeNormal
			return m, nil
		}
		return m.handleNormalKeys(msg)
	}

	return m, nil
}

// handleNormalKeys handles key presses in normal mode
func (m Model) handleNormalKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Help):
		m.mode = ModeHelp
		return m, nil

	case key.Matches(msg, keys.Escape):
		m.dismiss()
		return m, nil
	}

	if !m.sess.IsAuthenticated {
		m.message = msgNotLoggedIn
		return m, nil
	}

	switch {
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.items())-1 {
			m.cursor++
		}

	case key.Matches(msg, keys.Top):
		m.cursor = 0

	case key.Matches(msg, keys.Bottom):
		m.cursor = len(m.items()) - 1
		m.clampCursor()

	case key.Matches(msg, keys.Add):
		return m.startAddItem()

	case key.Matches(msg, keys.Increase):
		return m, m.changeQuantity(1)

	case key.Matches(msg, keys.Decrease):
		return m, m.changeQuantity(-1)

	case key.Matches(msg, keys.Delete):
		return m, m.handleDelete()

	case key.Matches(msg, keys.Clear):
		return m.handleClear()

	case key.Matches(msg, keys.Summary):
		return m, m.fetchSummary()

	case key.Matches(msg, keys.Refresh):
		m.message = "Refreshing..."
		return m, m.run("Cart refreshed", m.carts.RefreshCart)

	case key.Matches(msg, keys.Logout):
		return m, m.run("Logged out", m.session.Logout)
	}

	return m, nil
}

// dismiss hides the error banner, or the status message when there is none
func (m *Model) dismiss() {
	if m.cart.Error != "" || m.sess.Error != "" {
		m.carts.ClearError()
		m.session.ClearError()
		return
	}
	m.message = ""
}

func (m Model) changeQuantity(delta int) tea.Cmd {
	item, ok := m.currentItem()
	if !ok {
		return nil
	}
	next := item.Quantity + delta
	note := fmt.Sprintf("%s × %d", truncate(item.Product.Title, 30), next)
	if next <= 0 {
		note = fmt.Sprintf("Removed %s", truncate(item.Product.Title, 30))
	}
	return m.run(note, func(ctx context.Context) error {
		return m.carts.UpdateCartItem(ctx, item.ID, next)
	})
}

func (m Model) handleDelete() tea.Cmd {
	item, ok := m.currentItem()
	if !ok {
		return nil
	}
	return m.run(fmt.Sprintf("Removed %s", truncate(item.Product.Title, 30)), func(ctx context.Context) error {
		return m.carts.RemoveFromCartOptimistic(ctx, item.ID)
	})
}

func (m Model) handleClear() (tea.Model, tea.Cmd) {
	if len(m.items()) == 0 {
		m.message = "Cart is already empty"
		return m, nil
	}
	if m.confirmClear {
		m.mode = ModeConfirmClear
		return m, nil
	}
	return m, m.run("Cart cleared", m.carts.ClearCart)
}

func (m Model) startAddItem() (tea.Model, tea.Cmd) {
	m.mode = ModeAddItem
	m.input.Reset()
	m.input.Focus()
	return m, textinput.Blink
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Escape):
		m.mode = ModeNormal
		m.input.Blur()
		return m, nil

	case key.Matches(msg, keys.Enter):
		id := strings.TrimSpace(m.input.Value())
		m.mode = ModeNormal
		m.input.Blur()
		if id == "" {
			return m, nil
		}
		return m, m.run("Added to cart", func(ctx context.Context) error {
			return m.carts.AddToCart(ctx, id, 1)
		})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Yes):
		m.mode = ModeNormal
		return m, m.run("Cart cleared", m.carts.ClearCart)
	case key.Matches(msg, keys.No):
		m.mode = ModeNormal
		m.message = "Clear cancelled"
	}
	return m, nil
}
