// Package cli provides terminal rendering for the dawn chat interface.
package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/dawnvoice/dawn/pkg/convo"
	"github.com/dawnvoice/dawn/pkg/session"
)

// Theme defines the color scheme for the chat interface.
type Theme struct {
	User      lipgloss.Color // user turns
	Assistant lipgloss.Color // assistant turns
	Accent    lipgloss.Color // mode badge, prompts
	Dim       lipgloss.Color // hints and system notices
}

// DefaultTheme is the default theme.
var DefaultTheme = Theme{
	User:      lipgloss.Color("#00b4ff"),
	Assistant: lipgloss.Color("#00ff9f"),
	Accent:    lipgloss.Color("#ffb000"),
	Dim:       lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	Badge          lipgloss.Style
	Hint           lipgloss.Style
	Warning        lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		UserLabel:      lipgloss.NewStyle().Bold(true).Foreground(t.User),
		AssistantLabel: lipgloss.NewStyle().Bold(true).Foreground(t.Assistant),
		Badge:          lipgloss.NewStyle().Bold(true).Foreground(t.Accent),
		Hint:           lipgloss.NewStyle().Foreground(t.Dim),
		Warning:        lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")),
	}
}

// Turn renders one transcript turn as a labeled line.
func (s Styles) Turn(t convo.Turn) string {
	label := s.AssistantLabel.Render("assistant")
	if t.Role == convo.RoleUser {
		label = s.UserLabel.Render("you")
	}
	line := label + "  " + t.Content
	if t.Origin == convo.OriginRealtime {
		line += " " + s.Hint.Render("(voice)")
	}
	return line
}

// ModeBadge renders the current mode as a bracketed badge for the prompt.
func (s Styles) ModeBadge(m session.Mode) string {
	return s.Badge.Render("[" + m.String() + "]")
}

// Notice renders a dimmed system notice line.
func (s Styles) Notice(text string) string {
	return s.Hint.Render("· " + text)
}

// Warn renders a non-fatal warning line.
func (s Styles) Warn(text string) string {
	return s.Warning.Render("! " + text)
}
