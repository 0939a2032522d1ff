package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines all key bindings
type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Top      key.Binding
	Bottom   key.Binding
	Enter    key.Binding
	Add      key.Binding
	Increase key.Binding
	Decrease key.Binding
	Delete   key.Binding
	Clear    key.Binding
	Summary  key.Binding
	Refresh  key.Binding
	Help     key.Binding
	Quit     key.Binding
	Escape   key.Binding
	Logout   key.Binding
	Yes      key.Binding
	No       key.Binding
}

var keys = keyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Top:      key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g", "top")),
	Bottom:   key.NewBinding(key.WithKeys("G", "end"), key.WithHelp("G", "bottom")),
	Enter:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "confirm")),
	Add:      key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add product")),
	Increase: key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "more")),
	Decrease: key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "less")),
	Delete:   key.NewBinding(key.WithKeys("d", "x"), key.WithHelp("d", "remove")),
	Clear:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear cart")),
	Summary:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "summary")),
	Refresh:  key.NewBinding(key.WithKeys("r", "R"), key.WithHelp("r", "refresh")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Escape:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "dismiss")),
	Logout:   key.NewBinding(key.WithKeys("L"), key.WithHelp("L", "logout")),
	Yes:      key.NewBinding(key.WithKeys("y", "Y"), key.WithHelp("y", "yes")),
	No:       key.NewBinding(key.WithKeys("n", "N", "esc"), key.WithHelp("n", "no")),
}
