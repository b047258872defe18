package room

import (
	"context"
	"fmt"
	"log"
	"sync"

	"roomchat/pkg/interfaces"
	"roomchat/pkg/types"
)

// Manager implements the RoomManager interface: an in-memory cache of
// known rooms in front of the message store. Rooms are created lazily on
// first connection and live for the life of the process.
type Manager struct {
	store interfaces.MessageStore
	rooms map[string]*types.Room // name -> Room
	mu    sync.RWMutex
}

// NewManager creates a room manager backed by the given store.
func NewManager(store interfaces.MessageStore) *Manager {
	return &Manager{
		store: store,
		rooms: make(map[string]*types.Room),
	}
}

// LoadRooms warms the cache from the store at startup.
func (m *Manager) LoadRooms(ctx context.Context) error {
	rooms, err := m.store.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rooms: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, room := range rooms {
		m.rooms[room.Name] = room
	}

	log.Printf("room: loaded %d rooms", len(rooms))
	return nil
}

// GetOrCreate validates a raw room name, derives the canonical key, and
// resolves or creates the room.
func (m *Manager) GetOrCreate(ctx context.Context, rawName string) (*types.Room, error) {
	if err := types.ValidateRoomName(rawName); err != nil {
		return nil, err
	}

	m.mu.RLock()
	if room, exists := m.rooms[rawName]; exists {
		m.mu.RUnlock()
		return room, nil
	}
	m.mu.RUnlock()

	room, err := m.store.GetOrCreateRoom(ctx, rawName, types.RoomKey(rawName))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve room: %w", err)
	}

	m.mu.Lock()
	m.rooms[room.Name] = room
	m.mu.Unlock()

	return room, nil
}

// Get resolves an existing room by name, checking the cache first.
func (m *Manager) Get(ctx context.Context, name string) (*types.Room, error) {
	m.mu.RLock()
	if room, exists := m.rooms[name]; exists {
		m.mu.RUnlock()
		return room, nil
	}
	m.mu.RUnlock()

	room, err := m.store.GetRoom(ctx, name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.rooms[room.Name] = room
	m.mu.Unlock()

	return room, nil
}

// ListRooms returns all known rooms from the store.
func (m *Manager) ListRooms(ctx context.Context) ([]*types.Room, error) {
	return m.store.ListRooms(ctx)
}

// Stats reports cache statistics for monitoring.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"cached_rooms": len(m.rooms),
	}
}
