package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"roomchat/pkg/interfaces"
	"roomchat/pkg/types"
)

// Registry is the read-only slice of the connection registry the API needs.
type Registry interface {
	RoomCount(roomKey string) int
	Stats() map[string]int
}

// Server is the HTTP read side: room listings, message history, presence,
// health. No business logic lives here, only HTTP handling and JSON.
type Server struct {
	rooms    interfaces.RoomManager
	store    interfaces.MessageStore
	registry Registry
	router   *http.ServeMux
}

// NewServer wires the API routes.
func NewServer(rooms interfaces.RoomManager, store interfaces.MessageStore, registry Registry) *Server {
	s := &Server{
		rooms:    rooms,
		store:    store,
		registry: registry,
		router:   http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/rooms", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRooms))))
	s.router.Handle("/api/rooms/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRoomSubresource))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type RoomSummary struct {
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"created_at"`
	ConnectionCount int       `json:"connection_count"`
}

type ListRoomsResponse struct {
	Rooms []RoomSummary `json:"rooms"`
}

type RoomUsersResponse struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleRooms serves GET /api/rooms.
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listRooms(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRoomSubresource routes GET /api/rooms/{room}/messages and
// GET /api/rooms/{room}/users. r.URL.Path arrives already
// percent-decoded, so the room segment is used as-is.
func (s *Server) handleRoomSubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		s.sendError(w, "Room name required", http.StatusBadRequest)
		return
	}
	roomName := parts[0]

	switch parts[1] {
	case "messages":
		s.listMessages(w, r, roomName)
	case "users":
		s.listUsers(w, r, roomName)
	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

// listMessages serves the room history as a bare JSON array, newest first.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, roomName string) {
	if _, err := s.rooms.Get(r.Context(), roomName); err != nil {
		if err == interfaces.ErrRoomNotFound {
			s.sendError(w, "Room not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to resolve room", http.StatusInternalServerError)
		}
		return
	}

	messages, err := s.store.ListMessages(r.Context(), roomName, interfaces.OrderDescending)
	if err != nil {
		s.sendError(w, "Failed to list messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}

	_ = json.NewEncoder(w).Encode(messages)
}

// listUsers serves the current presence list of a room.
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request, roomName string) {
	room, err := s.rooms.Get(r.Context(), roomName)
	if err != nil {
		if err == interfaces.ErrRoomNotFound {
			s.sendError(w, "Room not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to resolve room", http.StatusInternalServerError)
		}
		return
	}

	users, err := s.store.ListPresentUsers(r.Context(), room.ID)
	if err != nil {
		s.sendError(w, "Failed to list users", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(RoomUsersResponse{Room: roomName, Users: users})
}

// listRooms serves all known rooms with their live connection counts.
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.rooms.ListRooms(r.Context())
	if err != nil {
		s.sendError(w, "Failed to list rooms", http.StatusInternalServerError)
		return
	}

	summaries := make([]RoomSummary, len(rooms))
	for i, room := range rooms {
		summaries[i] = RoomSummary{
			Name:            room.Name,
			CreatedAt:       room.CreatedAt,
			ConnectionCount: s.registry.RoomCount(room.Key),
		}
	}

	_ = json.NewEncoder(w).Encode(ListRoomsResponse{Rooms: summaries})
}

// healthCheck serves GET /health and returns 503 when the store is down.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.Stats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware allows browser clients from any origin. Tighten this at
// the reverse proxy for restricted deployments.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}
