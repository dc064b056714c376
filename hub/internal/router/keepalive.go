package router

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsPingInterval is how often the hub sends WebSocket ping frames.
	wsPingInterval = 30 * time.Second
	// wsPongWait is the maximum time to wait for a pong from the peer.
	wsPongWait = 60 * time.Second
	// wsWriteWait bounds every single frame write.
	wsWriteWait = 10 * time.Second
)

// armKeepalive sets the initial read deadline and extends it on every pong.
// Pings are sent by the peer's writer so that all writes stay on one goroutine.
func armKeepalive(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
}

func writePing(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}
