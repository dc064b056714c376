package room

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/syncroom/syncroom/pkg/client"
	"github.com/syncroom/syncroom/pkg/protocol"
)

// Options configures Attach.
type Options struct {
	HubURL    string // http(s) base URL of the hub
	ProjectID string
	Token     string
	Self      protocol.Sender
}

// Attach joins the project room and runs the TUI until the user quits or
// ctx is cancelled.
func Attach(ctx context.Context, opts Options) error {
	wsURL, err := socketURL(opts.HubURL)
	if err != nil {
		return err
	}

	conn, err := client.Dial(ctx, client.Options{
		URL:       wsURL,
		ProjectID: opts.ProjectID,
		Token:     opts.Token,
	})
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	defer func() { _ = conn.Close() }()

	docs := client.NewDocuments(opts.HubURL, opts.Token)
	m := New(opts.ProjectID, opts.Self, conn, docs)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	// Forward hub events to the TUI.
	go forward(ctx, conn, p.Send)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

type receiver interface {
	Receive(ctx context.Context) (protocol.Envelope, error)
}

// forward turns room events into TUI messages until the connection ends.
func forward(ctx context.Context, conn receiver, send func(tea.Msg)) {
	for {
		env, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				send(DisconnectedMsg{Err: err})
			}
			return
		}

		switch env.Event {
		case protocol.EventProjectMessage:
			var pm protocol.ProjectMessage
			if env.Decode(&pm) == nil {
				send(IncomingMsg{Message: pm})
			}
		case protocol.EventProjectError:
			var pe protocol.ProjectError
			if env.Decode(&pe) == nil {
				send(ProjectErrorMsg{Code: pe.Code, Message: pe.Message})
			}
		}
	}
}

// socketURL maps the hub's http(s) base URL to its WebSocket endpoint.
func socketURL(hubURL string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("hub url %q: scheme must be http or https", hubURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}
