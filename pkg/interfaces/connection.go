package interfaces

import "roomchat/pkg/types"

// Connection is a live client socket as seen by the room registry. Write
// methods must be safe for concurrent use; implementations serialize
// writes through a single writer.
type Connection interface {
	// ID returns the opaque identity of this connection. Distinct
	// connections from the same user have distinct IDs.
	ID() string

	// User returns the identity assigned at handshake.
	User() types.User

	// RoomKey returns the canonical key of the owning room.
	RoomKey() string

	// Write sends a raw payload to the client.
	Write(data []byte) error

	// WriteJSON marshals v and sends it to the client.
	WriteJSON(v interface{}) error

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// Closed reports whether teardown has begun. A closed connection can
	// never rejoin a room.
	Closed() bool
}
