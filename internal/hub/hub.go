// Package hub manages fan-out rooms and their member connections. Emit is
// best-effort per member: a failed delivery is logged and counted, never
// retried, and never blocks delivery to other members.
package hub

import (
	"sync"

	"github.com/rs/zerolog"
)

// Conn is one connected client as the hub sees it.
type Conn interface {
	// ID identifies the connection; unique for the process lifetime.
	ID() string
	// Send delivers one event frame. A non-nil error marks the delivery
	// failed for this member only.
	Send(event string, payload any) error
}

// Hub tracks room membership. All membership mutation runs under one lock,
// so a connection's leave-then-join on resubscription is serialized and it
// is never observably in both its old and new room sets.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Conn
	byConn map[string]map[string]bool // conn ID -> joined rooms

	logger zerolog.Logger
	onFail func(room string)
}

// New creates an empty hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]Conn),
		byConn: make(map[string]map[string]bool),
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// OnDeliveryFailure registers a callback invoked once per failed emit,
// used for metrics. Must be set before the hub is shared.
func (h *Hub) OnDeliveryFailure(fn func(room string)) {
	h.onFail = fn
}

// SetRooms replaces a connection's room set: the connection fully leaves
// its previous rooms, then joins the new ones, atomically.
func (h *Hub) SetRooms(conn Conn, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveAllLocked(conn.ID())

	if len(rooms) == 0 {
		return
	}
	joined := make(map[string]bool, len(rooms))
	for _, room := range rooms {
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[string]Conn)
			h.rooms[room] = members
		}
		members[conn.ID()] = conn
		joined[room] = true
	}
	h.byConn[conn.ID()] = joined
}

// Drop removes a connection from every room, on unsubscribe or disconnect.
func (h *Hub) Drop(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveAllLocked(connID)
}

func (h *Hub) leaveAllLocked(connID string) {
	for room := range h.byConn[connID] {
		members := h.rooms[room]
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.byConn, connID)
}

// Emit delivers one event to every member of a room. Stale-membership and
// write errors are swallowed after logging.
func (h *Hub) Emit(room, event string, payload any) {
	h.mu.RLock()
	members := make([]Conn, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if err := c.Send(event, payload); err != nil {
			h.logger.Warn().
				Err(err).
				Str("room", room).
				Str("conn", c.ID()).
				Str("event", event).
				Msg("delivery failed")
			if h.onFail != nil {
				h.onFail(room)
			}
		}
	}
}

// Rooms returns the rooms a connection is currently joined to.
func (h *Hub) Rooms(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.byConn[connID]))
	for room := range h.byConn[connID] {
		rooms = append(rooms, room)
	}
	return rooms
}

// Occupancy returns the member count per room, for introspection.
func (h *Hub) Occupancy() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	occ := make(map[string]int, len(h.rooms))
	for room, members := range h.rooms {
		occ[room] = len(members)
	}
	return occ
}
