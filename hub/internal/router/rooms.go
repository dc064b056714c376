package router

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/syncroom/syncroom/hub/internal/metrics"
)

// Rooms maps project IDs to the set of peers currently joined. A room
// exists while it has at least one member.
type Rooms struct {
	mu      sync.Mutex
	rooms   map[string]*room
	logger  *slog.Logger
	metrics metrics.Recorder
}

type room struct {
	mu      sync.RWMutex
	members map[string]*Peer // peer id -> peer
}

// NewRooms creates an empty registry.
func NewRooms(logger *slog.Logger, rec metrics.Recorder) *Rooms {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Rooms{
		rooms:   make(map[string]*room),
		logger:  logger.With("component", "rooms"),
		metrics: rec,
	}
}

// Join adds p to its room, creating the room if needed. It returns false
// if p was already a member.
func (rs *Rooms) Join(p *Peer) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, ok := rs.rooms[p.roomID]
	if !ok {
		r = &room{members: make(map[string]*Peer)}
		rs.rooms[p.roomID] = r
		rs.metrics.SetRooms(len(rs.rooms))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.members[p.id]; exists {
		return false
	}
	r.members[p.id] = p
	return true
}

// Leave removes p from its room. It reports whether the room became empty
// and was dropped.
func (rs *Rooms) Leave(p *Peer) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, ok := rs.rooms[p.roomID]
	if !ok {
		return false
	}
	r.mu.Lock()
	delete(r.members, p.id)
	empty := len(r.members) == 0
	r.mu.Unlock()

	if empty {
		delete(rs.rooms, p.roomID)
		rs.metrics.SetRooms(len(rs.rooms))
	}
	return empty
}

// BroadcastToOthers delivers frame to every member of roomID except exclude.
func (rs *Rooms) BroadcastToOthers(roomID string, frame []byte, exclude *Peer) int {
	return rs.broadcast(roomID, frame, exclude)
}

// BroadcastToAll delivers frame to every member of roomID.
func (rs *Rooms) BroadcastToAll(roomID string, frame []byte) int {
	return rs.broadcast(roomID, frame, nil)
}

// broadcast snapshots membership under the read lock and delivers outside
// it. It returns the number of peers the frame was queued for.
func (rs *Rooms) broadcast(roomID string, frame []byte, exclude *Peer) int {
	peers := rs.Members(roomID)

	delivered := 0
	for _, p := range peers {
		if p == exclude {
			continue
		}
		switch err := p.deliver(frame); err {
		case nil:
			delivered++
		case errQueueFull:
			rs.metrics.RecordDroppedDelivery()
			rs.logger.Warn("dropping message for slow peer", "project_id", roomID, "conn_id", p.id)
		}
	}
	return delivered
}

// Members returns a snapshot of the peers in roomID ordered by peer ID.
func (rs *Rooms) Members(roomID string) []*Peer {
	rs.mu.Lock()
	r, ok := rs.rooms[roomID]
	rs.mu.Unlock()
	if !ok {
		return nil
	}

	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.members))
	for _, p := range r.members {
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].id < peers[j].id })
	return peers
}

// RoomCount returns the number of non-empty rooms.
func (rs *Rooms) RoomCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.rooms)
}

// PeerCount returns the number of joined peers across all rooms.
func (rs *Rooms) PeerCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	n := 0
	for _, r := range rs.rooms {
		r.mu.RLock()
		n += len(r.members)
		r.mu.RUnlock()
	}
	return n
}

// all returns every joined peer; used on shutdown.
func (rs *Rooms) all() []*Peer {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var peers []*Peer
	for _, r := range rs.rooms {
		r.mu.RLock()
		for _, p := range r.members {
			peers = append(peers, p)
		}
		r.mu.RUnlock()
	}
	return peers
}
