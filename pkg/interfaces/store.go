package interfaces

import (
	"context"

	"roomchat/pkg/types"
)

// MessageOrder selects the timestamp ordering for message listings.
type MessageOrder string

const (
	OrderAscending  MessageOrder = "ASC"
	OrderDescending MessageOrder = "DESC"
)

// MessageStore is the persistence collaborator: the durable store for
// rooms, messages, and presence membership. The realtime core only ever
// reads from and writes to it through these operations.
type MessageStore interface {
	// GetOrCreateRoom resolves a room by name, creating it on first use.
	GetOrCreateRoom(ctx context.Context, name, key string) (*types.Room, error)

	// GetRoom resolves an existing room by name. Returns ErrRoomNotFound
	// if the room has never been created.
	GetRoom(ctx context.Context, name string) (*types.Room, error)

	// ListRooms returns all known rooms.
	ListRooms(ctx context.Context) ([]*types.Room, error)

	// CreateMessage persists a message with a server-assigned ID and
	// timestamp and returns the stored record.
	CreateMessage(ctx context.Context, room *types.Room, username, content string) (*types.Message, error)

	// ListMessages returns a room's messages ordered by timestamp.
	ListMessages(ctx context.Context, roomName string, order MessageOrder) ([]*types.Message, error)

	// AddPresentUser increments the presence reference count for a
	// (room, username) pair. A user with several simultaneous connections
	// holds one count per connection.
	AddPresentUser(ctx context.Context, roomID, username string) error

	// RemovePresentUser decrements the presence reference count and
	// removes the user once no connections remain.
	RemovePresentUser(ctx context.Context, roomID, username string) error

	// ListPresentUsers returns the usernames currently present in a room.
	ListPresentUsers(ctx context.Context, roomID string) ([]string, error)

	// HealthCheck verifies store connectivity.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases the store.
	Close() error
}

// RoomManager resolves rooms for incoming connections, caching lookups in
// front of the MessageStore.
type RoomManager interface {
	// GetOrCreate validates a raw room name, derives its canonical key,
	// and resolves or creates the room.
	GetOrCreate(ctx context.Context, rawName string) (*types.Room, error)

	// Get resolves an existing room by name.
	Get(ctx context.Context, name string) (*types.Room, error)

	// ListRooms returns all known rooms.
	ListRooms(ctx context.Context) ([]*types.Room, error)

	// Stats reports cache statistics for monitoring.
	Stats() map[string]int
}
