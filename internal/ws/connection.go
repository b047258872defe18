package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"roomchat/pkg/types"
)

// Connection wraps one client socket. Identity and owning room are fixed
// at handshake time; all outbound traffic funnels through a single writer
// goroutine because gorilla sockets allow only one concurrent writer.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	id           string
	user         types.User
	room         *types.Room
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	teardownOnce sync.Once
}

// NewConnection wraps an accepted socket and starts its writer.
func NewConnection(conn *websocket.Conn, user types.User, room *types.Room, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, 100),
		id:           uuid.New().String(),
		user:         user,
		room:         room,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer for this socket.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the opaque connection identity.
func (c *Connection) ID() string {
	return c.id
}

// User returns the identity assigned at handshake.
func (c *Connection) User() types.User {
	return c.user
}

// Room returns the owning room.
func (c *Connection) Room() *types.Room {
	return c.room
}

// RoomKey returns the canonical key of the owning room.
func (c *Connection) RoomKey() string {
	return c.room.Key
}

// Write queues a raw payload for the writer goroutine.
func (c *Connection) Write(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// WriteJSON marshals v and queues it for the writer goroutine.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.Write(data)
}

// Close cancels the writer and closes the socket. Safe to call more than
// once; only the first call does anything.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Closed reports whether teardown has begun.
func (c *Connection) Closed() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}
