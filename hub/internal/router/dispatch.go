package router

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/syncroom/syncroom/hub/internal/generation"
	"github.com/syncroom/syncroom/pkg/protocol"
)

// AIMarker addresses a message to the generation service.
const AIMarker = "@ai"

// Command is the routing decision for an inbound message.
type Command int

const (
	CommandPlain Command = iota
	CommandAI
)

func (c Command) String() string {
	if c == CommandAI {
		return "ai"
	}
	return "plain"
}

// Classify decides how a message body is routed. Bodies containing the AI
// marker anywhere become prompts with the first marker removed.
func Classify(body string) (Command, string) {
	if !strings.Contains(body, AIMarker) {
		return CommandPlain, body
	}
	return CommandAI, strings.TrimSpace(strings.Replace(body, AIMarker, "", 1))
}

func (r *Router) dispatch(p *Peer, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventProjectMessage:
		var pm protocol.ProjectMessage
		if err := env.Decode(&pm); err != nil {
			r.metrics.RecordMessage("dropped")
			r.logger.Warn("invalid project-message payload", "conn_id", p.id, "error", err)
			return
		}
		if strings.TrimSpace(pm.Message) == "" {
			r.metrics.RecordMessage("dropped")
			r.logger.Debug("empty project-message", "conn_id", p.id)
			return
		}
		// Never trust the client's claim about who sent it.
		pm.Sender = p.Sender()

		cmd, prompt := Classify(pm.Message)
		r.metrics.RecordMessage(cmd.String())
		switch cmd {
		case CommandAI:
			r.dispatchAI(p, prompt)
		default:
			r.broadcastPlain(p, pm)
		}

	default:
		r.metrics.RecordMessage("dropped")
		r.logger.Warn("unknown client event", "event", env.Event, "conn_id", p.id)
	}
}

func (r *Router) broadcastPlain(p *Peer, pm protocol.ProjectMessage) {
	frame, err := protocol.Encode(protocol.EventProjectMessage, pm)
	if err != nil {
		r.logger.Warn("marshal error", "error", err)
		return
	}
	r.rooms.BroadcastToOthers(p.roomID, frame, p)
}

// dispatchAI runs the generation call on its own goroutine so the sender's
// read loop and the rest of the room keep flowing. The reply goes to
// whoever is in the room when it arrives.
func (r *Router) dispatchAI(p *Peer, prompt string) {
	if prompt == "" {
		r.sendError(p, protocol.ErrCodeGenerationFailed, "empty prompt")
		return
	}

	roomID := p.roomID
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(r.ctx, r.genTimeout)
		defer cancel()

		slot := r.slot(roomID)
		defer r.releaseSlot(roomID)
		select {
		case slot <- struct{}{}:
			defer func() { <-slot }()
		case <-ctx.Done():
			r.generationFailed(p, 0, ctx.Err())
			return
		}

		start := time.Now()
		reply, err := r.generator.Generate(ctx, prompt)
		elapsed := time.Since(start)
		if err != nil {
			r.generationFailed(p, elapsed, err)
			return
		}
		r.metrics.RecordGeneration(elapsed, nil, "")

		frame, err := protocol.Encode(protocol.EventProjectMessage, protocol.ProjectMessage{
			Message: string(reply.Raw),
			Sender:  protocol.AISender,
		})
		if err != nil {
			r.logger.Warn("marshal error", "error", err)
			return
		}
		n := r.rooms.BroadcastToAll(roomID, frame)
		r.logger.Info("generation delivered", "project_id", roomID, "recipients", n, "duration", elapsed)
	}()
}

// generationFailed drops the reply from the room and tells only the
// requester what happened.
func (r *Router) generationFailed(p *Peer, elapsed time.Duration, err error) {
	if r.ctx.Err() != nil {
		r.logger.Debug("generation abandoned on shutdown", "project_id", p.roomID)
		return
	}

	code, reason := protocol.ErrCodeGenerationFailed, "error"
	if errors.Is(err, generation.ErrGenerationTimeout) || errors.Is(err, context.DeadlineExceeded) {
		code, reason = protocol.ErrCodeGenerationTimeout, "timeout"
	}
	r.metrics.RecordGeneration(elapsed, err, reason)
	r.logger.Warn("generation failed", "project_id", p.roomID, "conn_id", p.id, "reason", reason, "error", err)

	msg := "the AI could not answer this request"
	if reason == "timeout" {
		msg = "the AI did not answer in time"
	}
	r.sendError(p, code, msg)
}

// genSlot is a room's generation semaphore. refs counts the goroutines
// holding or waiting on it; the entry lives until the last one releases.
type genSlot struct {
	sem  chan struct{}
	refs int
}

// slot returns roomID's semaphore and registers the caller on it. Every
// call must be paired with releaseSlot.
func (r *Router) slot(roomID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.genSlots[roomID]
	if !ok {
		s = &genSlot{sem: make(chan struct{}, r.maxConcurrentGen)}
		r.genSlots[roomID] = s
	}
	s.refs++
	return s.sem
}

func (r *Router) releaseSlot(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.genSlots[roomID]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(r.genSlots, roomID)
	}
}
