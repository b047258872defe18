package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"roomchat/internal/api"
	"roomchat/internal/config"
	"roomchat/internal/hub"
	"roomchat/internal/room"
	"roomchat/internal/store"
	"roomchat/internal/ws"
	"roomchat/pkg/database"
)

// Application wires all components and owns their lifecycle.
// Initialization follows dependency order: store, rooms, registry,
// handlers, HTTP server.
type Application struct {
	config      *config.Config
	store       *store.Manager
	roomManager *room.Manager
	registry    *hub.Registry
	apiServer   *api.Server
	httpServer  *http.Server
}

// NewApplication builds a fully wired application from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbConfig := &database.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	storeManager, err := store.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	migrationManager := database.NewMigrationManager(storeManager.GetDB())
	if err := migrationManager.ApplyMigrations(); err != nil {
		_ = storeManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("database migrations applied")

	roomManager := room.NewManager(storeManager)
	if err := roomManager.LoadRooms(context.Background()); err != nil {
		_ = storeManager.Close()
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}

	registry := hub.NewRegistry()

	chatHandler := ws.NewHandler(registry, roomManager, storeManager, ws.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
	})

	apiServer := api.NewServer(roomManager, storeManager, registry)

	handshakeLimiter := api.NewIPRateLimiter(
		cfg.RateLimit.HandshakesPerSecond,
		cfg.RateLimit.HandshakeBurst,
	)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws/", api.RateLimitFunc(handshakeLimiter, chatHandler.HandleChat))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		store:       storeManager,
		roomManager: roomManager,
		registry:    registry,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Start begins serving. It returns once the listener is up or fails.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("starting roomchat on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("roomchat started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order: HTTP server
// first so no new connections arrive, then the store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("shutting down roomchat")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.store.Close(); err != nil {
		log.Printf("store shutdown error: %v", err)
	}

	log.Printf("roomchat shutdown complete")
	return nil
}

// GetAddr returns the address the HTTP server listens on.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
