package room

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/syncroom/syncroom/chat/internal/tui"
	"github.com/syncroom/syncroom/pkg/protocol"
)

const maxLogLines = 1000

type messagesModel struct {
	viewport   viewport.Model
	lines      []string
	autoScroll bool

	// now is swapped in tests.
	now func() time.Time
}

func newMessages() messagesModel {
	return messagesModel{
		viewport:   viewport.New(80, 10),
		autoScroll: true,
		now:        time.Now,
	}
}

func (l *messagesModel) SetSize(width, height int) {
	l.viewport.Width = width
	l.viewport.Height = height
}

func (l *messagesModel) addChat(from protocol.Sender, text string, self bool) {
	isAI := from.ID == protocol.AISenderID
	name := tui.AuthorStyle(isAI, self).Render(displayName(from))
	l.append(fmt.Sprintf("%s  %s", name, text))
}

func (l *messagesModel) addSystem(text string) {
	l.append(tui.Dimmed.Render(text))
}

func (l *messagesModel) addError(text string) {
	l.append(tui.ErrorStyle.Render(text))
}

func (l *messagesModel) append(body string) {
	ts := tui.Dimmed.Render(l.now().Format("15:04"))
	l.lines = append(l.lines, fmt.Sprintf("  %s %s", ts, body))

	if len(l.lines) > maxLogLines {
		l.lines = l.lines[len(l.lines)-maxLogLines:]
	}

	l.viewport.SetContent(strings.Join(l.lines, "\n"))
	if l.autoScroll {
		l.viewport.GotoBottom()
	}
}

func (l messagesModel) Update(msg tea.Msg) (messagesModel, tea.Cmd) {
	var cmd tea.Cmd
	l.viewport, cmd = l.viewport.Update(msg)
	// Scrolling back to the end resumes following new messages.
	l.autoScroll = l.viewport.AtBottom()
	return l, cmd
}

// Text returns the rendered log lines, newest last.
func (l messagesModel) Text() string {
	return strings.Join(l.lines, "\n")
}

func (l messagesModel) View(width int) string {
	return tui.Panel.Width(max(width-2, 0)).Render(l.viewport.View())
}
