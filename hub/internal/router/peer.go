package router

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/syncroom/syncroom/hub/internal/auth"
	"github.com/syncroom/syncroom/pkg/protocol"
)

var (
	errPeerClosed = errors.New("peer closed")
	errQueueFull  = errors.New("outbound queue full")
)

// Peer is one admitted connection. Outbound frames go through a bounded
// queue drained by a single writer, which preserves per-sender order.
type Peer struct {
	id       string
	roomID   string
	identity auth.Identity

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	limiter *rate.Limiter
}

func newPeer(id, roomID string, identity auth.Identity, queue int, limiter *rate.Limiter) *Peer {
	if queue <= 0 {
		queue = 256
	}
	return &Peer{
		id:       id,
		roomID:   roomID,
		identity: identity,
		send:     make(chan []byte, queue),
		done:     make(chan struct{}),
		limiter:  limiter,
	}
}

func (p *Peer) ID() string     { return p.id }
func (p *Peer) RoomID() string { return p.roomID }

// Sender is the identity stamped on messages this peer originates.
func (p *Peer) Sender() protocol.Sender {
	return protocol.Sender{ID: p.identity.UserID, Email: p.identity.Email}
}

// deliver enqueues a frame without blocking.
func (p *Peer) deliver(frame []byte) error {
	select {
	case <-p.done:
		return errPeerClosed
	default:
	}
	select {
	case p.send <- frame:
		return nil
	case <-p.done:
		return errPeerClosed
	default:
		return errQueueFull
	}
}

// allow reports whether another inbound message fits the rate budget.
func (p *Peer) allow() bool {
	if p.limiter == nil {
		return true
	}
	return p.limiter.Allow()
}

func (p *Peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// writeLoop drains the queue onto conn and sends keepalive pings. It returns
// when the peer is closed or a write fails.
func (p *Peer) writeLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame := <-p.send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				p.close()
				return
			}
		case <-ticker.C:
			if err := writePing(conn); err != nil {
				p.close()
				return
			}
		case <-p.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
