package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn is a live client connection owned by this process. The ID doubles as
// the routing key written to the presence directory; it is unrelated to the
// user's identity. Outbound frames are queued on a buffered channel drained
// by a single writer goroutine.
type Conn struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn creates a connection handle for an authenticated user with a fresh
// routing key.
func NewConn(userID string, sendBuffer int) *Conn {
	return &Conn{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now(),
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

// Enqueue places an outbound frame on the send queue without blocking.
// Returns false if the connection is closed or the queue is full; the
// caller treats either as a delivery miss, never as an error.
func (c *Conn) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Outbound is the frame queue consumed by the connection's writer goroutine.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Close marks the connection terminal. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed when the connection has been closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
