package hub

import (
	"log"
	"sync"

	"roomchat/pkg/interfaces"
)

// Registry maps room keys to the set of active connections and performs
// group-send fan-out. It is the only component holding cross-connection
// shared state; everything durable lives in the message store.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]interfaces.Connection // roomKey -> connID -> conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]interfaces.Connection),
	}
}

// Join adds a connection to a room's active set. A connection whose
// teardown has begun is refused, so a store call completing after
// disconnect can never re-register it.
func (r *Registry) Join(roomKey string, conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.Closed() {
		return ErrConnectionClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.rooms[roomKey]
	if !exists {
		members = make(map[string]interfaces.Connection)
		r.rooms[roomKey] = members
	}
	members[conn.ID()] = conn

	return nil
}

// Leave removes a connection from a room's active set. Idempotent: only
// the exact registered instance is removed, and removing an absent
// connection is a no-op. Empty room entries are evicted; presence and
// history live in the store, not here.
func (r *Registry) Leave(roomKey string, conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.rooms[roomKey]
	if !exists {
		return
	}

	registered, exists := members[conn.ID()]
	if !exists || registered != conn {
		return
	}

	delete(members, conn.ID())
	if len(members) == 0 {
		delete(r.rooms, roomKey)
	}
}

// Connections returns a snapshot of a room's active connections.
func (r *Registry) Connections(roomKey string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomKey]
	conns := make([]interfaces.Connection, 0, len(members))
	for _, conn := range members {
		conns = append(conns, conn)
	}

	return conns
}

// RoomCount returns the number of active connections in a room.
func (r *Registry) RoomCount(roomKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms[roomKey])
}

// Broadcast delivers a payload to every connection currently in the room.
// The member snapshot is taken under the lock; the writes happen outside
// it so one slow socket never blocks registry mutations. Delivery order
// across connections is unspecified, and a failed delivery to one
// connection never affects the others.
func (r *Registry) Broadcast(roomKey string, payload []byte) {
	for _, conn := range r.Connections(roomKey) {
		if err := conn.Write(payload); err != nil {
			log.Printf("hub: dropped broadcast to connection %s: %v", conn.ID(), err)
		}
	}
}

// BroadcastJSON delivers a JSON-encoded value to every connection in the
// room with the same isolation guarantees as Broadcast.
func (r *Registry) BroadcastJSON(roomKey string, v interface{}) {
	for _, conn := range r.Connections(roomKey) {
		if err := conn.WriteJSON(v); err != nil {
			log.Printf("hub: dropped broadcast to connection %s: %v", conn.ID(), err)
		}
	}
}

// Stats reports registry statistics for monitoring.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, members := range r.rooms {
		total += len(members)
	}

	return map[string]int{
		"total_connections": total,
		"active_rooms":      len(r.rooms),
	}
}
