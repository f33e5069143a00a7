// Package hub provides connection tracking for WebSocket clients.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/metrics"
)

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// Connection represents a single WebSocket connection. Its context is
// canceled when the connection is unregistered or closed, which aborts
// any in-flight backend call for a turn it originated.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	busy bool
}

// Context returns the connection's lifetime context.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// TryBeginTurn marks the connection busy. It returns false if a turn is
// already in flight; at most one turn per connection runs at a time.
func (c *Connection) TryBeginTurn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	return true
}

// EndTurn clears the busy flag.
func (c *Connection) EndTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
}

// WriteMessage writes a message to the underlying connection with
// proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close cancels the connection's context and closes the transport.
func (c *Connection) Close() error {
	c.cancel()
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

// Hub tracks all live connections keyed by a locally generated id.
type Hub struct {
	connections map[string]*Connection

	register   chan *Connection
	unregister chan *Connection

	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		logger:      logger,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			metrics.ActiveConnections.Inc()
			h.logger.Debug().Str("connection_id", conn.ID).Msg("connection registered")

		case conn := <-h.unregister:
			// The Send channel is never closed; consumers watch the
			// connection context instead, so a late queued send can
			// never hit a closed channel.
			conn.cancel()
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				metrics.ActiveConnections.Dec()
			}
			h.mu.Unlock()
			h.logger.Debug().Str("connection_id", conn.ID).Msg("connection unregistered")
		}
	}
}

// NewConnection creates a new connection for the given transport.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:     uuid.New().String(),
		Conn:   ws,
		Send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// SendToConnection queues a message for a connection. The send is
// best-effort: a full buffer returns ErrBufferFull rather than blocking
// backend consumption.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	select {
	case <-conn.ctx.Done():
		return conn.ctx.Err()
	default:
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection queues a JSON message for a connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
