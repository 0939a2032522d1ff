package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/textinput"

	"github.com/existflow/ecofinds/internal/cart"
	"github.com/existflow/ecofinds/internal/logger"
	"github.com/existflow/ecofinds/internal/metrics"
	"github.com/existflow/ecofinds/internal/model"
	"github.com/existflow/ecofinds/internal/session"
)

// Mode represents the current UI mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeAddItem
	ModeConfirmClear
	ModeSummary
	ModeHelp
)

// Deps are the stores and settings the model renders
type Deps struct {
	Session      *session.Store
	Cart         *cart.Store
	Metrics      *metrics.Metrics
	Theme        Theme
	ShowMetrics  bool
	ConfirmClear bool
}

// Model is the main TUI model. It never mutates store state directly: every
// change goes through a store operation and comes back on a subscription.
type Model struct {
	ctx     context.Context
	session *session.Store
	carts   *cart.Store
	metrics *metrics.Metrics

	sessionCh   <-chan session.State
	cartCh      <-chan cart.State
	stopSession func()
	stopCart    func()

	// Latest store snapshots
	sess session.State
	cart cart.State

	summary *model.CartSummary
	source  cart.Source

	styles       styles
	showMetrics  bool
	confirmClear bool

	// UI state
	width  int
	height int
	mode   Mode
	cursor int

	input textinput.Model

	message string
}

// NewModel creates a new TUI model subscribed to both stores
func NewModel(d Deps) Model {
	logger.Info("Initializing TUI model")

	ti := textinput.New()
	ti.Placeholder = "Product ID"
	ti.CharLimit = 64
	ti.Width = 40

	m := Model{
		ctx:          context.Background(),
		session:      d.Session,
		carts:        d.Cart,
		metrics:      d.Metrics,
		styles:       newStyles(d.Theme),
		showMetrics:  d.ShowMetrics,
		confirmClear: d.ConfirmClear,
		mode:         ModeNormal,
		input:        ti,
	}

	m.sessionCh, m.stopSession = d.Session.Subscribe()
	m.cartCh, m.stopCart = d.Cart.Subscribe()
	m.sess = d.Session.State()
	m.cart = d.Cart.State()

	logger.Debug("TUI model initialized",
		logger.F("authenticated", m.sess.IsAuthenticated),
		logger.F("items", len(m.items())))
	return m
}

// Close ends both store subscriptions. The stores outlive the model, so call
// it once the program has exited.
func (m Model) Close() {
	m.stopSession()
	m.stopCart()
}

func (m *Model) items() []model.CartItem {
	if m.cart.Cart == nil {
		return nil
	}
	return m.cart.Cart.Items
}

func (m *Model) currentItem() (model.CartItem, bool) {
	items := m.items()
	if m.cursor < 0 || m.cursor >= len(items) {
		return model.CartItem{}, false
	}
	return items[m.cursor], true
}

// clampCursor keeps the cursor on a line after the cart changed under it
func (m *Model) clampCursor() {
	n := len(m.items())
	switch {
	case n == 0:
		m.cursor = 0
	case m.cursor >= n:
		m.cursor = n - 1
	case m.cursor < 0:
		m.cursor = 0
	}
}
