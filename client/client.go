// Package client implements the client-side protocol adapter for the
// chat relay: a mirror state machine that interprets relay frames into
// connection state and reconnects with backoff.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/protocol"
)

// State is the adapter's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnectedIdle
	StateConnectedStreaming
)

func (s State) String() string {
	switch s {
	case StateConnectedIdle:
		return "connected-idle"
	case StateConnectedStreaming:
		return "connected-streaming"
	default:
		return "disconnected"
	}
}

// Send-side guard errors; requests are refused locally, not sent.
var (
	ErrNotConnected = errors.New("not connected")
	ErrStreaming    = errors.New("a turn is already streaming")
)

// Handlers are invoked from the read loop as frames arrive. OnComplete
// doubles as the invalidation signal: the durable transcript has a new
// assistant message and any cached copy should be refetched.
type Handlers struct {
	OnState    func(state State)
	OnChunk    func(fragment string)
	OnComplete func(content string, tokenUsage *int)
	OnError    func(code, message string)
}

// Client is a relay client. Run drives the connect/read/reconnect loop;
// Send issues one chat request when the adapter is connected and idle.
type Client struct {
	url      string
	handlers Handlers

	// Backoff governs reconnection delays; replace before Run to tune.
	Backoff *Backoff

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	partial strings.Builder
}

// New creates a client for the given websocket URL.
func New(url string, handlers Handlers) *Client {
	return &Client{
		url:      url,
		handlers: handlers,
		Backoff:  NewBackoff(time.Second, 30*time.Second),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Partial returns the text streamed so far for the in-flight turn.
func (c *Client) Partial() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partial.String()
}

// Send issues a chat request. It is refused locally while disconnected
// or while a turn is streaming; this guard is the client half of the
// one-turn-per-connection contract.
func (c *Client) Send(conversationID, content, model, mode string) error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
		c.mu.Unlock()
		return ErrNotConnected
	case StateConnectedStreaming:
		c.mu.Unlock()
		return ErrStreaming
	}
	conn := c.conn
	c.mu.Unlock()

	return conn.WriteJSON(protocol.ChatRequest{
		Type:           protocol.TypeChat,
		ConversationID: conversationID,
		Content:        content,
		Model:          model,
		Mode:           mode,
	})
}

// Run connects and reads frames until ctx is canceled, reconnecting
// after every disconnect with the configured backoff.
func (c *Client) Run(ctx context.Context) {
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err == nil {
			c.Backoff.Reset()
			c.setConnected(conn)
			c.readLoop(ctx, conn)
		}
		c.setDisconnected()

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.Backoff.Next()):
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var base protocol.BaseFrame
	if err := json.Unmarshal(data, &base); err != nil {
		return
	}

	switch base.Type {
	case protocol.TypeStreamingStart:
		c.transition(StateConnectedStreaming, true)

	case protocol.TypeStreamingChunk:
		var frame protocol.StreamingChunk
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		c.mu.Lock()
		c.partial.WriteString(frame.Content)
		c.mu.Unlock()
		if c.handlers.OnChunk != nil {
			c.handlers.OnChunk(frame.Content)
		}

	case protocol.TypeStreamingComplete:
		var frame protocol.StreamingComplete
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		c.transition(StateConnectedIdle, true)
		if c.handlers.OnComplete != nil {
			c.handlers.OnComplete(frame.Content, frame.TokenUsage)
		}

	case protocol.TypeError:
		var frame protocol.ErrorFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		c.transition(StateConnectedIdle, true)
		if c.handlers.OnError != nil {
			c.handlers.OnError(frame.Code, frame.Message)
		}
	}
}

func (c *Client) setConnected(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.transition(StateConnectedIdle, true)
}

func (c *Client) setDisconnected() {
	c.mu.Lock()
	alreadyDisconnected := c.state == StateDisconnected
	c.conn = nil
	c.mu.Unlock()
	if !alreadyDisconnected {
		c.transition(StateDisconnected, true)
	}
}

// transition moves to the given state, clearing the partial accumulator
// when requested, and notifies the state handler.
func (c *Client) transition(state State, clearPartial bool) {
	c.mu.Lock()
	c.state = state
	if clearPartial {
		c.partial.Reset()
	}
	c.mu.Unlock()
	if c.handlers.OnState != nil {
		c.handlers.OnState(state)
	}
}

// Backoff computes exponential reconnection delays with a cap.
type Backoff struct {
	initial time.Duration
	max     time.Duration

	mu      sync.Mutex
	current time.Duration
}

// NewBackoff creates a backoff starting at initial and doubling up to max.
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{initial: initial, max: max}
}

// Next returns the next delay.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == 0 {
		b.current = b.initial
	} else {
		b.current *= 2
		if b.current > b.max {
			b.current = b.max
		}
	}
	return b.current
}

// Reset restarts the sequence; called after a successful connect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = 0
}
