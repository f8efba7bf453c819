package websocket

import (
	"sync"
	"time"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/models"
	"github.com/gorilla/websocket"
)

// Connection is the registry's record of one live transport session.
type Connection struct {
	ID          string
	Role        models.Role
	SessionID   string
	ProductID   int64
	UserID      string
	UserName    string
	IPAddress   string
	ConnectedAt time.Time

	transport Transport

	// writeMu serializes frames on this transport only; sends to other
	// connections are never blocked by it.
	writeMu sync.Mutex

	mu           sync.Mutex
	lastActivity time.Time
	isTyping     bool
	closed       bool
}

func newConnection(transport Transport, params ConnectParams, now time.Time) *Connection {
	return &Connection{
		ID:           params.ID,
		Role:         params.Role,
		SessionID:    params.SessionID,
		ProductID:    params.ProductID,
		UserID:       params.UserID,
		UserName:     params.UserName,
		IPAddress:    params.IPAddress,
		ConnectedAt:  now,
		transport:    transport,
		lastActivity: now,
	}
}

// SenderID is the identity stamped onto outbound envelopes: the user id when
// known, otherwise the connection id.
func (c *Connection) SenderID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.ID
}

func (c *Connection) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Connection) SetTyping(typing bool) {
	c.mu.Lock()
	c.isTyping = typing
	c.mu.Unlock()
}

func (c *Connection) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isTyping
}

// writeFrame delivers one text frame. The closed flag is re-checked under
// the write lock immediately before the write, since a concurrent disconnect
// may land between a broadcast snapshot and this attempt.
func (c *Connection) writeFrame(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errConnectionClosed
	}

	if timeout > 0 {
		c.transport.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.transport.WriteMessage(websocket.TextMessage, data)
}

// close marks the connection closed and closes the transport. Idempotent.
func (c *Connection) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.transport.Close()
}
