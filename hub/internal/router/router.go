// Package router admits WebSocket connections into project rooms and routes
// room messages, including "@ai" requests to the generation service.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/syncroom/syncroom/hub/internal/auth"
	"github.com/syncroom/syncroom/hub/internal/generation"
	"github.com/syncroom/syncroom/hub/internal/metrics"
	"github.com/syncroom/syncroom/hub/internal/store"
	"github.com/syncroom/syncroom/pkg/protocol"
)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Router owns the room registry and every live connection.
type Router struct {
	gate      *Gate
	rooms     *Rooms
	generator generation.Generator
	metrics   metrics.Recorder
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	maxMessageBytes  int64
	maxConnsPerUser  int
	outboundQueue    int
	msgRate          rate.Limit
	msgBurst         int
	genTimeout       time.Duration
	maxConcurrentGen int

	// ctx is cancelled on Close and parents every generation call.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	closed        bool
	clientsByUser map[string]int
	genSlots      map[string]*genSlot // project id -> semaphore
}

// Options configures the Router.
type Options struct {
	AllowedOrigins    []string // for WebSocket origin check
	MaxMessageBytes   int64    // max inbound message size (default 64KB)
	MaxConnsPerUser   int      // default 10
	OutboundQueue     int      // per-connection send buffer (default 256)
	MessagesPerSecond float64  // inbound rate per connection; 0 or less disables
	MessageBurst      int
	GenerationTimeout time.Duration // default 60s
	MaxConcurrentGen  int           // per room (default 4)
}

// New creates a new Router.
func New(dir store.Directory, v auth.Verifier, gen generation.Generator, rec metrics.Recorder, logger *slog.Logger, opts Options) *Router {
	if rec == nil {
		rec = metrics.Nop{}
	}
	maxMsg := opts.MaxMessageBytes
	if maxMsg <= 0 {
		maxMsg = 64 * 1024 // 64KB default
	}
	maxConns := opts.MaxConnsPerUser
	if maxConns <= 0 {
		maxConns = 10
	}
	genTimeout := opts.GenerationTimeout
	if genTimeout <= 0 {
		genTimeout = 60 * time.Second
	}
	maxGen := opts.MaxConcurrentGen
	if maxGen <= 0 {
		maxGen = 4
	}
	burst := opts.MessageBurst
	if burst <= 0 {
		burst = 50
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		gate:             NewGate(dir, v),
		rooms:            NewRooms(logger, rec),
		generator:        gen,
		metrics:          rec,
		logger:           logger.With("component", "router"),
		upgrader:         makeUpgrader(opts.AllowedOrigins),
		maxMessageBytes:  maxMsg,
		maxConnsPerUser:  maxConns,
		outboundQueue:    opts.OutboundQueue,
		msgRate:          rate.Limit(opts.MessagesPerSecond),
		msgBurst:         burst,
		genTimeout:       genTimeout,
		maxConcurrentGen: maxGen,
		ctx:              ctx,
		cancel:           cancel,
		clientsByUser:    make(map[string]int),
		genSlots:         make(map[string]*genSlot),
	}
}

// Rooms exposes the room registry.
func (r *Router) Rooms() *Rooms { return r.rooms }

// Participants lists the distinct users currently connected to a project.
func (r *Router) Participants(projectID string) []protocol.Sender {
	seen := make(map[string]bool)
	out := []protocol.Sender{}
	for _, p := range r.rooms.Members(projectID) {
		if seen[p.identity.UserID] {
			continue
		}
		seen[p.identity.UserID] = true
		out = append(out, p.Sender())
	}
	return out
}

// HandleWS admits, upgrades and serves a client connection. Admission runs
// before the upgrade so rejected clients get a plain HTTP error.
func (r *Router) HandleWS(w http.ResponseWriter, req *http.Request) {
	adm, err := r.gate.Admit(req.Context(), req)
	if err != nil {
		status, code := rejection(err)
		r.metrics.RecordAdmission(code)
		if status == http.StatusInternalServerError {
			r.logger.Error("admission failed", "error", err)
		} else {
			r.logger.Info("connection rejected", "reason", code, "remote", req.RemoteAddr)
		}
		writeRejection(w, status, code)
		return
	}

	userID := adm.Identity.UserID
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		writeRejection(w, http.StatusServiceUnavailable, "ShuttingDown")
		return
	}
	if r.clientsByUser[userID] >= r.maxConnsPerUser {
		r.mu.Unlock()
		r.metrics.RecordAdmission(protocol.RejectTooManyConnections)
		r.logger.Warn("too many WebSocket connections for user", "user_id", userID, "limit", r.maxConnsPerUser)
		writeRejection(w, http.StatusTooManyRequests, protocol.RejectTooManyConnections)
		return
	}
	r.clientsByUser[userID]++
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()
	defer r.releaseUser(userID)

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("client websocket upgrade failed", "error", err)
		return
	}
	r.metrics.RecordAdmission("admitted")

	var limiter *rate.Limiter
	if r.msgRate > 0 {
		limiter = rate.NewLimiter(r.msgRate, r.msgBurst)
	}
	p := newPeer(uuid.New().String(), adm.Project.ID, *adm.Identity, r.outboundQueue, limiter)
	r.serve(conn, p)
}

func (r *Router) releaseUser(userID string) {
	r.mu.Lock()
	r.clientsByUser[userID]--
	if r.clientsByUser[userID] <= 0 {
		delete(r.clientsByUser, userID)
	}
	r.mu.Unlock()
}

// serve runs the read loop for an upgraded connection until it closes.
func (r *Router) serve(conn *websocket.Conn, p *Peer) {
	defer conn.Close()

	// Frames up to four times the message limit are read and rejected with
	// a project-error; anything larger fails the connection.
	conn.SetReadLimit(r.maxMessageBytes * 4)
	armKeepalive(conn)

	r.rooms.Join(p)
	r.metrics.ConnectionOpened()
	log := r.logger.With("project_id", p.roomID, "conn_id", p.id, "user_id", p.identity.UserID)
	log.Info("client joined room")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		p.writeLoop(conn)
		_ = conn.Close()
	}()

	// Close cancels ctx before it snapshots the rooms, so a peer that joined
	// after the snapshot sees the cancellation here.
	if r.ctx.Err() != nil {
		p.close()
	}

	defer func() {
		p.close()
		<-writerDone
		r.rooms.Leave(p)
		r.metrics.ConnectionClosed()
		log.Info("client left room")
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Debug("client read error", "error", err)
			return
		}

		if int64(len(msg)) > r.maxMessageBytes {
			r.metrics.RecordMessage("dropped")
			log.Warn("message too large", "bytes", len(msg), "limit", r.maxMessageBytes)
			r.sendError(p, protocol.ErrCodeMessageTooLarge, "message exceeds the size limit")
			continue
		}
		if !p.allow() {
			r.metrics.RecordMessage("dropped")
			log.Debug("client message rate limited")
			r.sendError(p, protocol.ErrCodeRateLimited, "too many messages")
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			r.metrics.RecordMessage("dropped")
			log.Warn("invalid message from client", "error", err)
			continue
		}
		r.dispatch(p, env)
	}
}

// sendError queues a project-error for p only.
func (r *Router) sendError(p *Peer, code, message string) {
	frame, err := protocol.Encode(protocol.EventProjectError, protocol.ProjectError{Code: code, Message: message})
	if err != nil {
		r.logger.Warn("marshal error", "error", err)
		return
	}
	if err := p.deliver(frame); err == errQueueFull {
		r.metrics.RecordDroppedDelivery()
	}
}

// Close disconnects every peer, cancels in-flight generation calls and
// waits for connection handlers to finish or ctx to expire.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	for _, p := range r.rooms.all() {
		p.close()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
