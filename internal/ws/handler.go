package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/hub"
	"roomchat/pkg/interfaces"
	"roomchat/pkg/types"
)

// maxFrameSize bounds inbound frames. Message content is capped at 255
// characters, so anything larger is garbage anyway.
const maxFrameSize = 4096

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is deployment-specific; the reverse proxy in
		// front of this service enforces it.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Options carries the per-connection timing knobs.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultOptions returns the timings used when none are configured.
func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Handler owns the lifecycle of chat connections: accept, validate, relay
// inbound messages, relay broadcasts, teardown.
type Handler struct {
	registry *hub.Registry
	rooms    interfaces.RoomManager
	store    interfaces.MessageStore
	opts     Options
}

// NewHandler creates a connection handler.
func NewHandler(registry *hub.Registry, rooms interfaces.RoomManager, store interfaces.MessageStore, opts Options) *Handler {
	if opts.PingInterval <= 0 || opts.ReadTimeout <= 0 || opts.WriteTimeout <= 0 {
		opts = DefaultOptions()
	}
	return &Handler{
		registry: registry,
		rooms:    rooms,
		store:    store,
		opts:     opts,
	}
}

// HandleChat serves GET /ws/{room}. An invalid room name rejects the
// handshake with 400, so the client sees a client-error close and the
// connection never joins a room. On success the order is fixed: resolve
// room, accept, register, record presence, broadcast the presence list —
// the accept completes before any broadcast can target the socket.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	// r.URL.Path is already percent-decoded by net/http; decoding again
	// would mangle names containing a literal percent sign.
	rawName := strings.TrimPrefix(r.URL.Path, "/ws/")
	if err := types.ValidateRoomName(rawName); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user := types.AnonymousUser()
	if name := r.URL.Query().Get("username"); name != "" {
		user = types.NamedUser(name)
	}

	room, err := h.rooms.GetOrCreate(r.Context(), rawName)
	if err != nil {
		http.Error(w, "failed to resolve room", http.StatusInternalServerError)
		return
	}

	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	conn := NewConnection(socket, user, room, h.opts.WriteTimeout)

	if err := h.registry.Join(room.Key, conn); err != nil {
		log.Printf("ws: join failed for %s: %v", conn.ID(), err)
		_ = conn.Close()
		return
	}

	if err := h.store.AddPresentUser(context.Background(), room.ID, user.DisplayName()); err != nil {
		log.Printf("ws: failed to record presence for %s: %v", user.DisplayName(), err)
	}
	h.broadcastPresence(room)

	go h.serve(conn)
}

// serve is the per-connection read pump with ping/pong keepalive.
// Inbound frames from one client are processed strictly in arrival order.
func (h *Handler) serve(conn *Connection) {
	defer h.teardown(conn)

	conn.conn.SetReadLimit(maxFrameSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error on %s: %v", conn.ID(), err)
			}
			return
		}

		if messageType == websocket.TextMessage {
			h.handleInbound(conn, data)
		}
	}
}

// pingLoop keeps the connection alive until it is closed.
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				return
			}
		case <-conn.ctx.Done():
			return
		}
	}
}

// handleInbound processes one client frame. Invalid input is dropped
// silently: no error goes back to the sender and the connection stays
// open. A message is broadcast only after it has been persisted; if the
// store rejects it, nobody sees it.
func (h *Handler) handleInbound(conn *Connection, data []byte) {
	var frame types.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	if err := types.ValidateMessageContent(frame.Message); err != nil {
		return
	}

	room := conn.Room()
	message, err := h.store.CreateMessage(context.Background(), room, conn.User().DisplayName(), frame.Message)
	if err != nil {
		log.Printf("ws: message dropped, persist failed: %v", err)
		return
	}

	h.registry.BroadcastJSON(room.Key, types.ChatFrame{
		Message:   message.Content,
		Username:  message.Username,
		Timestamp: message.Timestamp.Format(time.RFC3339Nano),
	})
}

// teardown runs exactly once per connection no matter how it ends:
// unregister, close the socket, drop the presence count, tell the
// remaining members. Store calls use a background context so an in-flight
// write finishes even though the client is gone.
func (h *Handler) teardown(conn *Connection) {
	conn.teardownOnce.Do(func() {
		room := conn.Room()

		h.registry.Leave(room.Key, conn)
		_ = conn.Close()

		if err := h.store.RemovePresentUser(context.Background(), room.ID, conn.User().DisplayName()); err != nil {
			log.Printf("ws: failed to remove presence for %s: %v", conn.User().DisplayName(), err)
		}
		h.broadcastPresence(room)
	})
}

// broadcastPresence fans the current presence list out to the whole room.
// Presence is read back from the store, which records it before any
// broadcast fires.
func (h *Handler) broadcastPresence(room *types.Room) {
	users, err := h.store.ListPresentUsers(context.Background(), room.ID)
	if err != nil {
		log.Printf("ws: presence broadcast skipped: %v", err)
		return
	}

	h.registry.BroadcastJSON(room.Key, types.PresenceFrame{UserList: users})
}
