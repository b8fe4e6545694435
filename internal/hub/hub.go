// Package hub tracks board membership and fans frames out to subscribers.
package hub

import (
	"sync"
	"time"

	"github.com/haasonsaas/boardsync/pkg/models"
)

// Broker mediates fan-out so members connected to a different process can be
// reached. The in-process Hub is the default implementation; a shared pub/sub
// layer can replace it without touching the server. Version assignment stays
// single-writer per board regardless of the broker.
type Broker interface {
	// Publish delivers a frame to every subscriber of the board except the
	// originating connection.
	Publish(boardID, originConnID string, frame []byte)
	// Subscribe registers a connection's outbound channel for a board and
	// returns a cancel func.
	Subscribe(boardID, connID string, ch chan<- []byte) func()
}

type subscriber struct {
	connID string
	ch     chan<- []byte
}

// Hub is the in-process Broker plus the per-board membership map.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]subscriber // boardID -> connID -> sub
	members     map[string]map[string]models.Member
	dropped     func() // invoked when a slow consumer misses a frame
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		subscribers: map[string]map[string]subscriber{},
		members:     map[string]map[string]models.Member{},
	}
}

// OnDrop registers a hook called whenever a frame is dropped for a slow
// consumer.
func (h *Hub) OnDrop(fn func()) {
	h.mu.Lock()
	h.dropped = fn
	h.mu.Unlock()
}

// Subscribe registers a connection for a board's broadcasts.
func (h *Hub) Subscribe(boardID, connID string, ch chan<- []byte) func() {
	h.mu.Lock()
	subs := h.subscribers[boardID]
	if subs == nil {
		subs = map[string]subscriber{}
		h.subscribers[boardID] = subs
	}
	subs[connID] = subscriber{connID: connID, ch: ch}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		if subs := h.subscribers[boardID]; subs != nil {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(h.subscribers, boardID)
			}
		}
		h.mu.Unlock()
	}
}

// Publish sends a frame to every board subscriber except the origin. Sends
// never block; a full consumer buffer drops the frame rather than stalling
// the serialization loop.
func (h *Hub) Publish(boardID, originConnID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers[boardID] {
		if sub.connID == originConnID {
			continue
		}
		select {
		case sub.ch <- frame:
		default:
			if h.dropped != nil {
				h.dropped()
			}
		}
	}
}

// Join records a member on a board and returns the membership snapshot
// including the new member.
func (h *Hub) Join(boardID, connID string, member models.Member) []models.Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now()
	}
	room := h.members[boardID]
	if room == nil {
		room = map[string]models.Member{}
		h.members[boardID] = room
	}
	room[connID] = member
	return snapshotLocked(room)
}

// Leave removes a connection's membership. It reports whether the connection
// was actually a member, so the caller can guarantee exactly one leave
// broadcast per join.
func (h *Hub) Leave(boardID, connID string) (models.Member, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.members[boardID]
	member, ok := room[connID]
	if !ok {
		return models.Member{}, false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.members, boardID)
	}
	return member, true
}

// Members returns the current membership snapshot for a board.
func (h *Hub) Members(boardID string) []models.Member {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return snapshotLocked(h.members[boardID])
}

// Boards returns ids of boards with at least one member.
func (h *Hub) Boards() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.members))
	for id := range h.members {
		out = append(out, id)
	}
	return out
}

func snapshotLocked(room map[string]models.Member) []models.Member {
	if len(room) == 0 {
		return nil
	}
	out := make([]models.Member, 0, len(room))
	for _, m := range room {
		out = append(out, m)
	}
	return out
}
