package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme selects the color palette
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// ParseTheme accepts light, dark or system in any case
func ParseTheme(s string) (Theme, error) {
	switch t := Theme(strings.ToLower(strings.TrimSpace(s))); t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return t, nil
	default:
		return "", fmt.Errorf("unknown theme %q (use light, dark or system)", s)
	}
}

// palette holds hex colors for one background
type palette struct {
	Primary   string
	Text      string
	TextMuted string
	Surface   string
	Border    string
	Success   string
	Warning   string
	Danger    string
}

var (
	darkPalette = palette{
		Primary:   "#4ECDC4",
		Text:      "#FFFFFF",
		TextMuted: "#888888",
		Surface:   "#16213e",
		Border:    "#333333",
		Success:   "#95E1A3",
		Warning:   "#FFE66D",
		Danger:    "#FF6B6B",
	}
	lightPalette = palette{
		Primary:   "#1B7F79",
		Text:      "#1A1A1A",
		TextMuted: "#6C757D",
		Surface:   "#E8F5F4",
		Border:    "#CCCCCC",
		Success:   "#2E7D32",
		Warning:   "#B7791F",
		Danger:    "#C62828",
	}
)

// color resolves one palette entry. ThemeSystem lets the terminal
// background decide.
func (t Theme) color(pick func(palette) string) lipgloss.TerminalColor {
	switch t {
	case ThemeLight:
		return lipgloss.Color(pick(lightPalette))
	case ThemeDark:
		return lipgloss.Color(pick(darkPalette))
	default:
		return lipgloss.AdaptiveColor{Light: pick(lightPalette), Dark: pick(darkPalette)}
	}
}

// styles are built once per model from its theme
type styles struct {
	Header       lipgloss.Style
	Badge        lipgloss.Style
	List         lipgloss.Style
	Item         lipgloss.Style
	ItemSelected lipgloss.Style
	Price        lipgloss.Style
	Savings      lipgloss.Style
	Error        lipgloss.Style
	Notice       lipgloss.Style
	StatusBar    lipgloss.Style
	Modal        lipgloss.Style
	Help         lipgloss.Style
	Rule         lipgloss.Style
}

func newStyles(t Theme) styles {
	var (
		primary = t.color(func(p palette) string { return p.Primary })
		text    = t.color(func(p palette) string { return p.Text })
		muted   = t.color(func(p palette) string { return p.TextMuted })
		surface = t.color(func(p palette) string { return p.Surface })
		border  = t.color(func(p palette) string { return p.Border })
		success = t.color(func(p palette) string { return p.Success })
		warning = t.color(func(p palette) string { return p.Warning })
		danger  = t.color(func(p palette) string { return p.Danger })
	)
	return styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(primary).
			Padding(0, 1),
		Badge: lipgloss.NewStyle().
			Bold(true).
			Foreground(surface).
			Background(primary).
			Padding(0, 1),
		List: lipgloss.NewStyle().
			Padding(1, 2),
		Item: lipgloss.NewStyle().
			Foreground(text).
			Padding(0, 1),
		ItemSelected: lipgloss.NewStyle().
			Foreground(text).
			Background(surface).
			Bold(true).
			Padding(0, 1),
		Price:   lipgloss.NewStyle().Foreground(primary).Bold(true),
		Savings: lipgloss.NewStyle().Foreground(success),
		Error: lipgloss.NewStyle().
			Bold(true).
			Foreground(danger).
			Padding(0, 1),
		Notice: lipgloss.NewStyle().Foreground(warning),
		StatusBar: lipgloss.NewStyle().
			Foreground(muted).
			Padding(0, 1).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(border),
		Modal: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primary).
			Padding(1, 2),
		Help: lipgloss.NewStyle().Foreground(muted),
		Rule: lipgloss.NewStyle().Foreground(border),
	}
}
