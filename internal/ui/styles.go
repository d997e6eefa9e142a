// Package ui provides terminal styling for bblifecycle CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Ayu theme color palette
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle     = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle     = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle   = lipgloss.NewStyle().Foreground(ColorAccent)
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Status icons
const (
	IconPass   = "✓"
	IconWarn   = "⚠"
	IconFail   = "✗"
	IconButton = "▸"
	IconMenu   = "▾"
)

const TreeIndent = "  "

// render applies style only when color output is enabled.
func render(style lipgloss.Style, s string) string {
	if !ShouldUseColor() {
		return s
	}
	return style.Render(s)
}

func RenderPass(s string) string   { return render(PassStyle, s) }
func RenderWarn(s string) string   { return render(WarnStyle, s) }
func RenderFail(s string) string   { return render(FailStyle, s) }
func RenderMuted(s string) string  { return render(MutedStyle, s) }
func RenderAccent(s string) string { return render(AccentStyle, s) }

// RenderCategory renders a section header in uppercase with accent color.
func RenderCategory(s string) string {
	return render(CategoryStyle, strings.ToUpper(s))
}

// RenderPassIcon renders the pass icon with styling
func RenderPassIcon() string { return RenderPass(IconPass) }

// RenderWarnIcon renders the warning icon with styling
func RenderWarnIcon() string { return RenderWarn(IconWarn) }

// RenderFailIcon renders the fail icon with styling
func RenderFailIcon() string { return RenderFail(IconFail) }
