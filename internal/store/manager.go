package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	dbconfig "roomchat/pkg/database"
	"roomchat/pkg/interfaces"
	"roomchat/pkg/types"
)

// errStoreClosed is returned for writes attempted at or after Close.
var errStoreClosed = errors.New("store is closed")

// Manager implements the MessageStore interface over SQLite. Writes are
// serialized through a single goroutine; reads run concurrently against
// the WAL-mode connection pool.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation carries one write into the single-writer loop.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the write loop.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine. SQLite
// allows only one writer at a time; funneling writes here avoids lock
// contention entirely. A failed write is retried once after a backoff.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("store: write failed, retrying: %v", err)
				time.Sleep(100 * time.Millisecond)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("store: write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			// Answer anything still queued so no caller is left
			// blocked on its result.
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- errStoreClosed
				default:
					return
				}
			}
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return errStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		select {
		case err := <-result:
			return err
		case <-m.shutdown:
			// The loop drains the queue on shutdown, but an operation
			// enqueued in the same instant can slip past the drain.
			// Give an in-flight write a moment to finish, then give up.
			select {
			case err := <-result:
				return err
			case <-time.After(time.Second):
				return errStoreClosed
			}
		}
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return errStoreClosed
	}
}

// GetOrCreateRoom resolves a room by name, creating it on first use.
// Concurrent creates race harmlessly: the insert is OR IGNORE and the
// unique name constraint keeps a single winner.
func (m *Manager) GetOrCreateRoom(ctx context.Context, name, key string) (*types.Room, error) {
	room, err := m.GetRoom(ctx, name)
	if err == nil {
		return room, nil
	}
	if err != interfaces.ErrRoomNotFound {
		return nil, err
	}

	id := uuid.New().String()
	createdAt := time.Now().UTC()
	err = m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT OR IGNORE INTO rooms (id, name, key, created_at) VALUES (?, ?, ?, ?)",
			id, name, key, createdAt,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return m.GetRoom(ctx, name)
}

// GetRoom resolves an existing room by name.
func (m *Manager) GetRoom(ctx context.Context, name string) (*types.Room, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT id, name, key, created_at FROM rooms WHERE name = ?", name)

	var room types.Room
	err := row.Scan(&room.ID, &room.Name, &room.Key, &room.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}

	return &room, nil
}

// ListRooms returns all known rooms, newest first.
func (m *Manager) ListRooms(ctx context.Context) ([]*types.Room, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT id, name, key, created_at FROM rooms ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []*types.Room
	for rows.Next() {
		var room types.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.Key, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		rooms = append(rooms, &room)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}

	return rooms, nil
}

// CreateMessage persists a message with a server-assigned ID and timestamp
// and returns the stored record.
func (m *Manager) CreateMessage(ctx context.Context, room *types.Room, username, content string) (*types.Message, error) {
	message := &types.Message{
		ID:        uuid.New().String(),
		RoomID:    room.ID,
		Room:      room.Name,
		Username:  username,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}

	err := m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO messages (id, room_id, username, content, timestamp) VALUES (?, ?, ?, ?, ?)",
			message.ID, message.RoomID, message.Username, message.Content, message.Timestamp,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	return message, nil
}

// ListMessages returns a room's messages ordered by timestamp. The rowid
// tiebreak keeps same-timestamp messages in insertion order.
func (m *Manager) ListMessages(ctx context.Context, roomName string, order interfaces.MessageOrder) ([]*types.Message, error) {
	direction := "ASC"
	if order == interfaces.OrderDescending {
		direction = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT m.id, m.room_id, r.name, m.username, m.content, m.timestamp
		FROM messages m
		JOIN rooms r ON r.id = m.room_id
		WHERE r.name = ?
		ORDER BY m.timestamp %s, m.rowid %s
	`, direction, direction)

	rows, err := m.db.QueryContext(ctx, query, roomName)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		var message types.Message
		err := rows.Scan(
			&message.ID,
			&message.RoomID,
			&message.Room,
			&message.Username,
			&message.Content,
			&message.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	return messages, nil
}

// AddPresentUser increments the presence reference count for a
// (room, username) pair.
func (m *Manager) AddPresentUser(ctx context.Context, roomID, username string) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO room_presence (room_id, username, refs) VALUES (?, ?, 1)
			ON CONFLICT(room_id, username) DO UPDATE SET refs = refs + 1
		`, roomID, username)
		return err
	})
}

// RemovePresentUser decrements the presence reference count and removes
// the user once no connections remain. Decrement and delete run in one
// transaction so a concurrent add never observes a negative count.
func (m *Manager) RemovePresentUser(ctx context.Context, roomID, username string) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			UPDATE room_presence SET refs = refs - 1
			WHERE room_id = ? AND username = ? AND refs > 0
		`, roomID, username)
		if err != nil {
			return fmt.Errorf("failed to decrement presence: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM room_presence
			WHERE room_id = ? AND username = ? AND refs <= 0
		`, roomID, username)
		if err != nil {
			return fmt.Errorf("failed to remove presence: %w", err)
		}

		return tx.Commit()
	})
}

// ListPresentUsers returns the usernames currently present in a room.
func (m *Manager) ListPresentUsers(ctx context.Context, roomID string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT username FROM room_presence
		WHERE room_id = ? AND refs > 0
		ORDER BY username
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query presence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := make([]string, 0)
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("failed to scan presence row: %w", err)
		}
		users = append(users, username)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating presence rows: %w", err)
	}

	return users, nil
}

// HealthCheck validates database connectivity. The read probe goes
// through QueryRowContext so the pooled connection is released as soon
// as the row is scanned.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database handle for migrations.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the write loop and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
