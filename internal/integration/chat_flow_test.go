package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/api"
	"roomchat/internal/hub"
	"roomchat/internal/room"
	"roomchat/internal/store"
	"roomchat/internal/ws"
	"roomchat/pkg/database"
	"roomchat/pkg/types"
)

// newStack wires the full service the way the application does, behind an
// httptest listener.
func newStack(t *testing.T) *httptest.Server {
	t.Helper()

	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "chat.db")

	manager, err := store.NewManager(config)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	if err := database.NewMigrationManager(manager.GetDB()).ApplyMigrations(); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	roomManager := room.NewManager(manager)
	registry := hub.NewRegistry()

	chatHandler := ws.NewHandler(registry, roomManager, manager, ws.Options{
		PingInterval: 50 * time.Millisecond,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: time.Second,
	})
	apiServer := api.NewServer(roomManager, manager, registry)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws/", chatHandler.HandleChat)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func dial(t *testing.T, server *httptest.Server, roomName, username string) *websocket.Conn {
	t.Helper()

	target := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/" + roomName + "?username=" + username
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func awaitPresence(t *testing.T, conn *websocket.Conn, want []string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed waiting for presence %v: %v", want, err)
		}

		var frame types.PresenceFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.UserList == nil {
			continue
		}
		if equalStrings(frame.UserList, want) {
			return
		}
	}
}

func awaitChat(t *testing.T, conn *websocket.Conn) types.ChatFrame {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed waiting for chat frame: %v", err)
		}

		var frame types.ChatFrame
		if err := json.Unmarshal(data, &frame); err == nil && frame.Username != "" {
			return frame
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestChatFlow walks two users through a full conversation: join, see
// each other, exchange messages, read the history over HTTP, leave.
func TestChatFlow(t *testing.T) {
	server := newStack(t)

	alice := dial(t, server, "lobby", "alice")
	awaitPresence(t, alice, []string{"alice"})

	bob := dial(t, server, "lobby", "bob")
	awaitPresence(t, alice, []string{"alice", "bob"})
	awaitPresence(t, bob, []string{"alice", "bob"})

	if err := alice.WriteJSON(types.InboundFrame{Message: "hi bob"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := awaitChat(t, conn)
		if frame.Message != "hi bob" || frame.Username != "alice" {
			t.Errorf("unexpected frame: %+v", frame)
		}
	}

	if err := bob.WriteJSON(types.InboundFrame{Message: "hi alice"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	awaitChat(t, alice)
	awaitChat(t, bob)

	// History over HTTP, newest first.
	resp, err := http.Get(server.URL + "/api/rooms/lobby/messages")
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var history []types.Message
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("bad history body: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Content != "hi alice" || history[1].Content != "hi bob" {
		t.Errorf("expected newest first, got %s then %s", history[0].Content, history[1].Content)
	}

	// Bob leaves; alice sees the shrunken list.
	if err := bob.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	awaitPresence(t, alice, []string{"alice"})

	// Presence endpoint agrees.
	resp, err = http.Get(server.URL + "/api/rooms/lobby/users")
	if err != nil {
		t.Fatalf("users request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var users api.RoomUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatalf("bad users body: %v", err)
	}
	if !equalStrings(users.Users, []string{"alice"}) {
		t.Errorf("expected [alice], got %v", users.Users)
	}
}

// TestHistorySurvivesReconnect checks that messages outlive connections.
func TestHistorySurvivesReconnect(t *testing.T) {
	server := newStack(t)

	alice := dial(t, server, "lobby", "alice")
	awaitPresence(t, alice, []string{"alice"})

	if err := alice.WriteJSON(types.InboundFrame{Message: "for the record"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	awaitChat(t, alice)

	if err := alice.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Give teardown a moment to settle before checking the empty room.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(server.URL + "/api/rooms/lobby/users")
		if err != nil {
			t.Fatalf("users request failed: %v", err)
		}
		var users api.RoomUsersResponse
		err = json.NewDecoder(resp.Body).Decode(&users)
		_ = resp.Body.Close()
		if err != nil {
			t.Fatalf("bad users body: %v", err)
		}
		if len(users.Users) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("presence never drained: %v", users.Users)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := http.Get(server.URL + "/api/rooms/lobby/messages")
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var history []types.Message
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("bad history body: %v", err)
	}
	if len(history) != 1 || history[0].Content != "for the record" {
		t.Errorf("expected persisted message, got %+v", history)
	}
}
