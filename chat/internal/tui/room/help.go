package room

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/syncroom/syncroom/chat/internal/tui"
)

type helpModel struct {
	visible bool
}

func newHelp() helpModel {
	return helpModel{}
}

func (h *helpModel) toggle() {
	h.visible = !h.visible
}

func (h helpModel) bar() string {
	return tui.Help.Render("  enter send  @ai ask  /files  /save  /help  ctrl+c quit")
}

func (h helpModel) View() string {
	title := tui.Title.Render("Room Commands") + "\n\n"

	binds := []struct {
		key  string
		desc string
	}{
		{"@ai <prompt>", "Ask the AI; a returned file tree replaces the local copy"},
		{"/files", "List paths in the local file tree"},
		{"/cat <path>", "Show one file"},
		{"/save", "Write the local file tree to the hub"},
		{"/reload", "Discard local changes and pull the saved tree"},
		{"/who", "Refresh the participant list"},
		{"/quit", "Leave the room"},
		{"PgUp / PgDn", "Scroll the message log"},
		{"?", "Toggle this help (empty input only)"},
	}

	keyStyle := lipgloss.NewStyle().
		Foreground(tui.ColorAccent).
		Bold(true).
		Width(16)

	descStyle := lipgloss.NewStyle().
		Foreground(tui.ColorText)

	s := title
	for _, b := range binds {
		s += "  " + keyStyle.Render(b.key) + descStyle.Render(b.desc) + "\n"
	}
	s += "\n" + tui.Help.Render("  Press any key to close")

	return lipgloss.NewStyle().Padding(1, 2).Render(s)
}
