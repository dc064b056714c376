package room

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/syncroom/syncroom/chat/internal/tui"
	"github.com/syncroom/syncroom/pkg/protocol"
)

type headerModel struct {
	projectID string
	people    []protocol.Sender
}

func newHeader(projectID string) headerModel {
	return headerModel{projectID: projectID}
}

func (h headerModel) View(width int, connected bool, files int, dirty bool) string {
	left := tui.Title.Render("Syncroom")
	right := fmt.Sprintf("%s  %s %s", h.projectID, tui.StatusDot(connected), tui.StatusText(connected))

	tree := fmt.Sprintf("%d files", files)
	if dirty {
		tree += " (unsaved)"
	}
	info := fmt.Sprintf("  Document: %s", tree)

	nameStyle := lipgloss.NewStyle().Foreground(tui.ColorText).Bold(true)
	metaStyle := lipgloss.NewStyle().Foreground(tui.ColorMuted)

	if len(h.people) > 0 {
		names := make([]string, len(h.people))
		for i, p := range h.people {
			names[i] = nameStyle.Render(displayName(p))
		}
		info += "\n" + metaStyle.Render("  Online:   ") + strings.Join(names, metaStyle.Render(", "))
	} else {
		info += "\n" + metaStyle.Render("  Online:   nobody yet")
	}

	headerStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(tui.ColorPrimary).
		Width(max(width-2, 0)).
		Padding(0, 1)

	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right)-6, 0)
	firstRow := lipgloss.JoinHorizontal(lipgloss.Top,
		left,
		lipgloss.NewStyle().Width(gap).Render(""),
		right,
	)

	return headerStyle.Render(firstRow + "\n" + tui.Description.Render(info))
}

// displayName prefers the email and falls back to the user id.
func displayName(s protocol.Sender) string {
	if s.Email != "" {
		return s.Email
	}
	return s.ID
}
