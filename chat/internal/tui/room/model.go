// Package room is the terminal view of one project room: the chat log, an
// input line and the project's file tree.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/syncroom/syncroom/pkg/client"
	"github.com/syncroom/syncroom/pkg/protocol"
)

const (
	requestTimeout  = 15 * time.Second
	refreshInterval = 5 * time.Second
)

// Publisher sends chat lines into the room.
type Publisher interface {
	Send(ctx context.Context, message string) error
}

// Documents is the document sync surface the view uses.
type Documents interface {
	FileTree(ctx context.Context, projectID string) (client.FileTree, error)
	SaveFileTree(ctx context.Context, projectID string, tree client.FileTree) error
	Participants(ctx context.Context, projectID string) ([]protocol.Sender, error)
}

// IncomingMsg carries a project-message relayed by the hub.
type IncomingMsg struct {
	Message protocol.ProjectMessage
}

// ProjectErrorMsg carries a project-error addressed to this client.
type ProjectErrorMsg struct {
	Code    string
	Message string
}

// DisconnectedMsg reports that the room connection ended.
type DisconnectedMsg struct {
	Err error
}

// FileTreeMsg carries a freshly pulled document.
type FileTreeMsg struct {
	Tree client.FileTree
	Err  error
}

// ParticipantsMsg carries the current room members.
type ParticipantsMsg struct {
	People []protocol.Sender
	Err    error
}

type sentMsg struct{ err error }

type savedMsg struct {
	files int
	err   error
}

type refreshMsg struct{}

var (
	keyQuit   = key.NewBinding(key.WithKeys("ctrl+c"))
	keySubmit = key.NewBinding(key.WithKeys("enter"))
	keyHelp   = key.NewBinding(key.WithKeys("?"))
	keyScroll = key.NewBinding(key.WithKeys("pgup", "pgdown"))
)

// Model is the root room TUI model.
type Model struct {
	projectID string
	self      protocol.Sender
	room      Publisher
	docs      Documents

	header   headerModel
	messages messagesModel
	input    textinput.Model
	help     helpModel

	tree      client.FileTree
	dirty     bool
	connected bool

	width    int
	height   int
	quitting bool
}

// New creates a room model. self is only used to label local echoes.
func New(projectID string, self protocol.Sender, room Publisher, docs Documents) Model {
	ti := textinput.New()
	ti.Prompt = "› "
	ti.Placeholder = "message, @ai <prompt>, or /help"
	ti.CharLimit = 16 * 1024
	ti.Focus()

	return Model{
		projectID: projectID,
		self:      self,
		room:      room,
		docs:      docs,
		header:    newHeader(projectID),
		messages:  newMessages(),
		input:     ti,
		help:      newHelp(),
		tree:      client.FileTree{},
		connected: true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.pullTree(), m.pullParticipants(), tickRefresh())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 6
		m.messages.SetSize(msg.Width-4, m.logHeight())
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keyQuit):
			m.quitting = true
			return m, tea.Quit
		case m.help.visible:
			m.help.toggle()
			return m, nil
		case key.Matches(msg, keyHelp) && m.input.Value() == "":
			m.help.toggle()
			return m, nil
		case key.Matches(msg, keySubmit):
			return m.submit()
		case key.Matches(msg, keyScroll):
			var cmd tea.Cmd
			m.messages, cmd = m.messages.Update(msg)
			return m, cmd
		}

	case IncomingMsg:
		m.receive(msg.Message)
		return m, nil

	case ProjectErrorMsg:
		m.messages.addError(fmt.Sprintf("%s: %s", msg.Code, msg.Message))
		return m, nil

	case DisconnectedMsg:
		m.connected = false
		m.messages.addError(fmt.Sprintf("disconnected: %v", msg.Err))
		return m, nil

	case FileTreeMsg:
		if msg.Err != nil {
			m.messages.addError(fmt.Sprintf("pull file tree: %v", msg.Err))
			return m, nil
		}
		m.tree = msg.Tree
		m.dirty = false
		return m, nil

	case ParticipantsMsg:
		if msg.Err == nil {
			m.header.people = msg.People
		}
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.messages.addError(fmt.Sprintf("send: %v", msg.err))
		}
		return m, nil

	case savedMsg:
		if msg.err != nil {
			m.messages.addError(fmt.Sprintf("save: %v", msg.err))
			return m, nil
		}
		m.dirty = false
		m.messages.addSystem(fmt.Sprintf("saved %d files", msg.files))
		return m, nil

	case refreshMsg:
		if !m.connected {
			return m, nil
		}
		return m, tea.Batch(m.pullParticipants(), tickRefresh())
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles the input line: slash commands locally, everything else
// goes to the room.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if text == "" {
		return m, nil
	}

	if strings.HasPrefix(text, "/") {
		return m.command(text)
	}

	if !m.connected {
		m.messages.addError("not connected")
		return m, nil
	}

	// The hub never echoes a sender's own message back.
	m.messages.addChat(m.self, text, true)
	room := m.room
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return sentMsg{err: room.Send(ctx, text)}
	}
}

func (m Model) command(text string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/q":
		m.quitting = true
		return m, tea.Quit
	case "/help":
		m.help.toggle()
	case "/files":
		paths := m.paths()
		if len(paths) == 0 {
			m.messages.addSystem("file tree is empty")
			break
		}
		m.messages.addSystem("files:\n  " + strings.Join(paths, "\n  "))
	case "/cat":
		contents, ok := m.tree.Contents(arg)
		if !ok {
			m.messages.addError(fmt.Sprintf("no file %q", arg))
			break
		}
		m.messages.addSystem(arg + ":\n" + contents)
	case "/who":
		return m, m.pullParticipants()
	case "/reload":
		return m, m.pullTree()
	case "/save":
		return m, m.saveTree()
	default:
		m.messages.addError(fmt.Sprintf("unknown command %s, try /help", name))
	}
	return m, nil
}

// receive renders a relayed message. AI replies that carry a file tree
// replace the local copy until /save or /reload.
func (m *Model) receive(pm protocol.ProjectMessage) {
	reply, isAI := protocol.ParseAIReply(pm)
	if !isAI {
		m.messages.addChat(pm.Sender, pm.Message, pm.Sender.ID == m.self.ID)
		return
	}

	m.messages.addChat(pm.Sender, reply.Text, false)
	if len(reply.FileTree) == 0 {
		return
	}
	var tree client.FileTree
	if err := json.Unmarshal(reply.FileTree, &tree); err != nil {
		m.messages.addError(fmt.Sprintf("AI file tree unreadable: %v", err))
		return
	}
	m.tree = tree
	m.dirty = true
	m.messages.addSystem(fmt.Sprintf("AI proposed %d files; /files to list, /save to keep", len(tree)))
}

func (m Model) paths() []string {
	paths := make([]string, 0, len(m.tree))
	for p := range m.tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (m Model) pullTree() tea.Cmd {
	docs, id := m.docs, m.projectID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		tree, err := docs.FileTree(ctx, id)
		return FileTreeMsg{Tree: tree, Err: err}
	}
}

func (m Model) pullParticipants() tea.Cmd {
	docs, id := m.docs, m.projectID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		people, err := docs.Participants(ctx, id)
		return ParticipantsMsg{People: people, Err: err}
	}
}

func (m Model) saveTree() tea.Cmd {
	docs, id := m.docs, m.projectID
	tree := make(client.FileTree, len(m.tree))
	for k, v := range m.tree {
		tree[k] = v
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return savedMsg{files: len(tree), err: docs.SaveFileTree(ctx, id, tree)}
	}
}

func tickRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

func (m Model) View() string {
	if m.help.visible {
		return m.help.View()
	}

	header := m.header.View(m.width, m.connected, len(m.tree), m.dirty)
	log := m.messages.View(m.width)
	input := lipgloss.NewStyle().Padding(0, 1).Render(m.input.View())

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		log,
		input,
		m.help.bar(),
	)
}

// Quitting reports whether the user asked to leave.
func (m Model) Quitting() bool { return m.quitting }

func (m Model) logHeight() int {
	// Header (3 rows + border), input, help bar and the log border.
	h := m.height - 4 - 1 - 1 - 2
	if h < 3 {
		h = 3
	}
	return h
}
