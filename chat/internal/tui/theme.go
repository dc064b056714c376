// Package tui provides the shared palette and styles for the room client.
package tui

import "github.com/charmbracelet/lipgloss"

// Colors.
var (
	ColorPrimary   = lipgloss.Color("#0EA5E9") // sky
	ColorSecondary = lipgloss.Color("#6366F1") // indigo
	ColorAccent    = lipgloss.Color("#F59E0B") // amber, reserved for the AI

	ColorSuccess = lipgloss.Color("#10B981")
	ColorError   = lipgloss.Color("#EF4444")
	ColorMuted   = lipgloss.Color("#6B7280")
	ColorText    = lipgloss.Color("#E5E7EB")
	ColorSubtle  = lipgloss.Color("#9CA3AF")
)

var (
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary)

	Subtitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	Description = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	Dimmed = lipgloss.NewStyle().
		Foreground(ColorMuted)

	Success = lipgloss.NewStyle().
		Foreground(ColorSuccess)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	Help = lipgloss.NewStyle().
		Foreground(ColorMuted)

	// Panel frames the message log.
	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorMuted)

	ActiveDot = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Render("●")

	InactiveDot = lipgloss.NewStyle().
			Foreground(ColorError).
			Render("●")
)

// StatusDot returns a colored dot for the room connection.
func StatusDot(connected bool) string {
	if connected {
		return ActiveDot
	}
	return InactiveDot
}

// StatusText returns a colored connection label.
func StatusText(connected bool) string {
	if connected {
		return Success.Render("connected")
	}
	return ErrorStyle.Render("disconnected")
}

// AuthorStyle picks the name color for a message author.
func AuthorStyle(isAI, isSelf bool) lipgloss.Style {
	switch {
	case isAI:
		return lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	case isSelf:
		return lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)
	}
}
