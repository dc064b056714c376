// Package client is a Go handle for a syncroom project room connection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncroom/syncroom/pkg/protocol"
)

// Admission errors returned by Dial.
var (
	ErrInvalidProjectReference = errors.New("invalid project reference")
	ErrProjectNotFound         = errors.New("project not found")
	ErrUnauthenticated         = errors.New("unauthenticated")
	ErrTooManyConnections      = errors.New("too many connections")
	ErrClosed                  = errors.New("connection closed")
)

// Options configures Dial.
type Options struct {
	URL       string // ws:// or wss:// endpoint, e.g. ws://localhost:8080/ws
	ProjectID string
	Token     string
	// UseHeader sends the token as an Authorization header instead of the
	// token query parameter.
	UseHeader bool
}

// Conn is an open room connection. It is safe for concurrent use.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	events chan protocol.Envelope
	done   chan struct{}
	err    error
	once   sync.Once
}

// Dial connects to a project room. Admission rejections are reported as
// one of the package errors.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("projectId", opts.ProjectID)
	header := http.Header{}
	if opts.Token != "" {
		if opts.UseHeader {
			header.Set("Authorization", "Bearer "+opts.Token)
		} else {
			q.Set("token", opts.Token)
		}
	}
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, admissionError(resp)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Conn{
		ws:     ws,
		events: make(chan protocol.Envelope, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func admissionError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(b, &body)

	switch body.Error {
	case protocol.RejectInvalidProjectReference:
		return ErrInvalidProjectReference
	case protocol.RejectProjectNotFound:
		return ErrProjectNotFound
	case protocol.RejectUnauthenticated:
		return ErrUnauthenticated
	case protocol.RejectTooManyConnections:
		return ErrTooManyConnections
	}
	return fmt.Errorf("dial: unexpected status %d: %s", resp.StatusCode, body.Error)
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Send publishes a chat message to the room. The hub stamps the sender.
func (c *Conn) Send(ctx context.Context, message string) error {
	return c.SendEvent(ctx, protocol.EventProjectMessage, protocol.ProjectMessage{Message: message})
}

// SendEvent writes an arbitrary event frame.
func (c *Conn) SendEvent(ctx context.Context, event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	return c.SendRaw(ctx, frame)
}

// SendRaw writes frame unchanged.
func (c *Conn) SendRaw(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Receive waits for the next event from the hub.
func (c *Conn) Receive(ctx context.Context) (protocol.Envelope, error) {
	select {
	case env, ok := <-c.events:
		if !ok {
			return protocol.Envelope{}, fmt.Errorf("%w: %v", ErrClosed, c.err)
		}
		return env, nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

// ReceiveMessage waits for the next project-message and decodes it.
// project-error events are returned as *ProjectError.
func (c *Conn) ReceiveMessage(ctx context.Context) (protocol.ProjectMessage, error) {
	for {
		env, err := c.Receive(ctx)
		if err != nil {
			return protocol.ProjectMessage{}, err
		}
		switch env.Event {
		case protocol.EventProjectMessage:
			var pm protocol.ProjectMessage
			err := env.Decode(&pm)
			return pm, err
		case protocol.EventProjectError:
			var pe protocol.ProjectError
			if err := env.Decode(&pe); err != nil {
				return protocol.ProjectMessage{}, err
			}
			return protocol.ProjectMessage{}, &ProjectError{Code: pe.Code, Message: pe.Message}
		}
	}
}

// ProjectError is a requester-only error reported by the hub.
type ProjectError struct {
	Code    string
	Message string
}

func (e *ProjectError) Error() string {
	return fmt.Sprintf("project error %s: %s", e.Code, e.Message)
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.fail(ErrClosed)
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
