// Package cli provides shared CLI output utilities for ticketd commands.
package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/drewfead/ticketd/internal/ticket"
)

// Tokyo Night inspired color palette
var (
	ColorFg      = lipgloss.Color("#c0caf5")
	ColorMuted   = lipgloss.Color("#565f89")
	ColorGreen   = lipgloss.Color("#9ece6a")
	ColorBlue    = lipgloss.Color("#7aa2f7")
	ColorRed     = lipgloss.Color("#f7768e")
	ColorYellow  = lipgloss.Color("#e0af68")
	ColorMagenta = lipgloss.Color("#bb9af7")
	ColorAccent  = lipgloss.Color("#d4a373")
)

// Common styles
var (
	StyleBold   = lipgloss.NewStyle().Bold(true)
	StyleTitle  = lipgloss.NewStyle().Foreground(ColorFg).Bold(true)
	StyleMuted  = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleAccent = lipgloss.NewStyle().Foreground(ColorAccent)
	StyleError  = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	StyleOK     = lipgloss.NewStyle().Foreground(ColorGreen)
	StyleWarn   = lipgloss.NewStyle().Foreground(ColorYellow)
)

// colorsEnabled caches whether colors should be used
var colorsEnabled *bool

// ColorsEnabled returns true if the terminal supports colors.
// Checks if stdout is a terminal and NO_COLOR env var is not set.
func ColorsEnabled() bool {
	if colorsEnabled != nil {
		return *colorsEnabled
	}

	enabled := term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""
	colorsEnabled = &enabled
	return enabled
}

// ForceColors enables or disables colors regardless of terminal detection.
func ForceColors(enabled bool) {
	colorsEnabled = &enabled
}

// Render applies style only if colors are enabled.
func Render(style lipgloss.Style, text string) string {
	if !ColorsEnabled() {
		return text
	}
	return style.Render(text)
}

func Bolden(text string) string { return Render(StyleBold, text) }
func Muted(text string) string  { return Render(StyleMuted, text) }
func Accent(text string) string { return Render(StyleAccent, text) }
func Failed(text string) string { return Render(StyleError, text) }
func OK(text string) string     { return Render(StyleOK, text) }
func Warn(text string) string   { return Render(StyleWarn, text) }

// StatusColor returns the color for a ticket status.
func StatusColor(s ticket.Status) lipgloss.Color {
	switch {
	case s == ticket.StatusNew:
		return ColorBlue
	case s == ticket.StatusOpen:
		return ColorGreen
	case s == ticket.StatusOnHold:
		return ColorYellow
	case s == ticket.StatusMerged || s == ticket.StatusFixed || s == ticket.StatusResolved:
		return ColorMagenta
	case s.IsClosed():
		return ColorRed
	default:
		return ColorMuted
	}
}

// StatusText renders a status in its color.
func StatusText(s ticket.Status) string {
	return Render(lipgloss.NewStyle().Foreground(StatusColor(s)).Bold(true), string(s))
}

// TerminalWidth returns the stdout width, or fallback when stdout is not a
// terminal.
func TerminalWidth(fallback int) int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return fallback
}
