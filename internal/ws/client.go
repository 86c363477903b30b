package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client represents one connected collaborator's WebSocket connection.
type Client struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewClient creates a client for an upgraded connection.
func NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 256),
	}
}

// Send queues a frame for delivery. A client that cannot keep up has its
// buffer overflow and is closed rather than blocking the broadcaster.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.closeLocked()
	}
}

// Close closes the client's send channel.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true once the client has been closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// UserID returns the collaborator this connection belongs to.
func (c *Client) UserID() string {
	return c.userID
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan exposes the outbound queue to the write pump.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}
