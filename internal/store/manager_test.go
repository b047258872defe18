package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	dbconfig "roomchat/pkg/database"
	"roomchat/pkg/interfaces"
	"roomchat/pkg/types"
)

var _ interfaces.MessageStore = (*Manager)(nil)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("failed to create store manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	if err := dbconfig.NewMigrationManager(manager.GetDB()).ApplyMigrations(); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	return manager
}

func TestGetOrCreateRoom(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	room, err := manager.GetOrCreateRoom(ctx, "lobby", types.RoomKey("lobby"))
	if err != nil {
		t.Fatalf("GetOrCreateRoom failed: %v", err)
	}
	if room.Name != "lobby" {
		t.Errorf("expected room name lobby, got %s", room.Name)
	}
	if room.Key != "chat_lobby" {
		t.Errorf("expected room key chat_lobby, got %s", room.Key)
	}
	if room.ID == "" {
		t.Error("room ID should be assigned")
	}

	// Second resolve returns the same room.
	again, err := manager.GetOrCreateRoom(ctx, "lobby", types.RoomKey("lobby"))
	if err != nil {
		t.Fatalf("second GetOrCreateRoom failed: %v", err)
	}
	if again.ID != room.ID {
		t.Errorf("expected same room ID %s, got %s", room.ID, again.ID)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	manager := newTestManager(t)

	_, err := manager.GetRoom(context.Background(), "nowhere")
	if err != interfaces.ErrRoomNotFound {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestCreateMessageAssignsIDAndTimestamp(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	room, err := manager.GetOrCreateRoom(ctx, "lobby", types.RoomKey("lobby"))
	if err != nil {
		t.Fatalf("GetOrCreateRoom failed: %v", err)
	}

	before := time.Now().UTC().Add(-time.Second)
	message, err := manager.CreateMessage(ctx, room, "alice", "hi")
	if err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	if message.ID == "" {
		t.Error("message ID should be assigned")
	}
	if message.Username != "alice" || message.Content != "hi" {
		t.Errorf("unexpected message fields: %+v", message)
	}
	if message.Room != "lobby" {
		t.Errorf("expected room lobby, got %s", message.Room)
	}
	if message.Timestamp.Before(before) {
		t.Errorf("timestamp not server-assigned: %v", message.Timestamp)
	}
}

func TestListMessagesOrdering(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	room, err := manager.GetOrCreateRoom(ctx, "lobby", types.RoomKey("lobby"))
	if err != nil {
		t.Fatalf("GetOrCreateRoom failed: %v", err)
	}

	for _, content := range []string{"first", "second", "third"} {
		if _, err := manager.CreateMessage(ctx, room, "alice", content); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	desc, err := manager.ListMessages(ctx, "lobby", interfaces.OrderDescending)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(desc) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(desc))
	}
	if desc[0].Content != "third" || desc[2].Content != "first" {
		t.Errorf("descending order wrong: %s .. %s", desc[0].Content, desc[2].Content)
	}

	asc, err := manager.ListMessages(ctx, "lobby", interfaces.OrderAscending)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if asc[0].Content != "first" || asc[2].Content != "third" {
		t.Errorf("ascending order wrong: %s .. %s", asc[0].Content, asc[2].Content)
	}
}

func TestListMessagesUnknownRoom(t *testing.T) {
	manager := newTestManager(t)

	messages, err := manager.ListMessages(context.Background(), "nowhere", interfaces.OrderDescending)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected no messages, got %d", len(messages))
	}
}

func TestPresenceAddAndRemove(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	room, err := manager.GetOrCreateRoom(ctx, "lobby", types.RoomKey("lobby"))
	if err != nil {
		t.Fatalf("GetOrCreateRoom failed: %v", err)
	}

	if err := manager.AddPresentUser(ctx, room.ID, "alice"); err != nil {
		t.Fatalf("AddPresentUser failed: %v", err)
	}
	if err := manager.AddPresentUser(ctx, room.ID, "bob"); err != nil {
		t.Fatalf("AddPresentUser failed: %v", err)
	}

	users, err := manager.ListPresentUsers(ctx, room.ID)
	if err != nil {
		t.Fatalf("ListPresentUsers failed: %v", err)
	}
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("expected [alice bob], got %v", users)
	}

	if err := manager.RemovePresentUser(ctx, room.ID, "bob"); err != nil {
		t.Fatalf("RemovePresentUser failed: %v", err)
	}

	users, err = manager.ListPresentUsers(ctx, room.ID)
	if err != nil {
		t.Fatalf("ListPresentUsers failed: %v", err)
	}
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("expected [alice], got %v", users)
	}
}

func TestPresenceReferenceCounting(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	room, err := manager.GetOrCreateRoom(ctx, "lobby", types.RoomKey("lobby"))
	if err != nil {
		t.Fatalf("GetOrCreateRoom failed: %v", err)
	}

	// Two connections from the same user: one entry, refcount two.
	if err := manager.AddPresentUser(ctx, room.ID, "alice"); err != nil {
		t.Fatalf("AddPresentUser failed: %v", err)
	}
	if err := manager.AddPresentUser(ctx, room.ID, "alice"); err != nil {
		t.Fatalf("AddPresentUser failed: %v", err)
	}

	users, err := manager.ListPresentUsers(ctx, room.ID)
	if err != nil {
		t.Fatalf("ListPresentUsers failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("duplicate connections must not duplicate presence: %v", users)
	}

	// Closing one connection keeps the user present.
	if err := manager.RemovePresentUser(ctx, room.ID, "alice"); err != nil {
		t.Fatalf("RemovePresentUser failed: %v", err)
	}
	users, err = manager.ListPresentUsers(ctx, room.ID)
	if err != nil {
		t.Fatalf("ListPresentUsers failed: %v", err)
	}
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("user should remain present while a connection is open: %v", users)
	}

	// Closing the last connection evicts the user.
	if err := manager.RemovePresentUser(ctx, room.ID, "alice"); err != nil {
		t.Fatalf("RemovePresentUser failed: %v", err)
	}
	users, err = manager.ListPresentUsers(ctx, room.ID)
	if err != nil {
		t.Fatalf("ListPresentUsers failed: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("expected empty presence, got %v", users)
	}
}

func TestRemovePresentUserAbsentIsNoop(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	room, err := manager.GetOrCreateRoom(ctx, "lobby", types.RoomKey("lobby"))
	if err != nil {
		t.Fatalf("GetOrCreateRoom failed: %v", err)
	}

	if err := manager.RemovePresentUser(ctx, room.ID, "ghost"); err != nil {
		t.Errorf("removing an absent user should not fail: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestHealthCheckDoesNotPinConnections(t *testing.T) {
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	cfg.MaxConnections = 2

	manager, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("failed to create store manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	if err := dbconfig.NewMigrationManager(manager.GetDB()).ApplyMigrations(); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	// More health checks than pooled connections. Each must release its
	// connection, or the pool drains and the read below blocks forever.
	for i := 0; i < cfg.MaxConnections+1; i++ {
		if err := manager.HealthCheck(context.Background()); err != nil {
			t.Fatalf("HealthCheck %d failed: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := manager.GetRoom(ctx, "nowhere"); err != interfaces.ErrRoomNotFound {
		t.Errorf("read after health checks should hit the database, got %v", err)
	}
}

func TestCloseDoesNotStrandQueuedWrites(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	room, err := manager.GetOrCreateRoom(ctx, "lobby", types.RoomKey("lobby"))
	if err != nil {
		t.Fatalf("GetOrCreateRoom failed: %v", err)
	}

	// Race a burst of writes against Close. Every caller must get an
	// answer, either a persisted message or a closed-store error; none
	// may block past shutdown.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = manager.CreateMessage(ctx, room, "alice", "racing close")
		}()
	}
	_ = manager.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("write callers still blocked after Close")
	}
}

func TestCloseIdempotent(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
