package chat

import (
	"context"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"
)

// SessionState is the lifecycle stage of a connection.
type SessionState int

const (
	StateUnbound SessionState = iota
	StateBound
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Client is the session of one transport connection. It carries at most one
// bound identity.
type Client struct {
	ID   string
	Conn ConnLike

	mu     sync.Mutex
	userID string
	state  SessionState
	send   chan []byte
	log    zerolog.Logger

	closeOnce sync.Once
}

type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// NewClient creates an unbound session whose outbound queue holds buffer frames.
func NewClient(id string, conn ConnLike, buffer int, logger zerolog.Logger) *Client {
	if buffer < 1 {
		buffer = 1
	}
	return &Client{
		ID:   id,
		Conn: conn,
		send: make(chan []byte, buffer),
		log:  logger.With().Str("conn_id", id).Logger(),
	}
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// identity returns the bound identity, or false unless the session is bound.
func (c *Client) identity() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.state == StateBound
}

func (c *Client) bind(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.state = StateBound
	c.log = c.log.With().Str("user_id", userID).Logger()
}

func (c *Client) logger() *zerolog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.log
	return &l
}

// markClosed moves the session to Closed and closes the outbound queue.
// It returns the identity that was bound, if any.
func (c *Client) markClosed() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasBound := c.state == StateBound
	if c.state != StateClosed {
		c.state = StateClosed
		close(c.send)
	}
	return c.userID, wasBound
}

// enqueue queues a frame without blocking. It reports false if the frame was
// dropped because the queue is full or the session is closed.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ReadPump dispatches inbound frames in order until the connection fails.
func (c *Client) ReadPump(ctx context.Context, m *ChatManager) {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			c.logger().Debug().Err(err).Msg("read ended")
			return
		}
		m.Dispatch(ctx, c, data)
	}
}

// WritePump drains the outbound queue to the connection until the queue closes.
func (c *Client) WritePump() {
	for data := range c.send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger().Warn().Err(err).Msg("write failed, closing connection")
			_ = c.Conn.Close()
			return
		}
	}
}
