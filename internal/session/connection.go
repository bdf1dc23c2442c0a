package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang-intel-service/internal/auth"

	"golang.org/x/time/rate"
)

// Connection is one live client session. It exclusively owns its transport;
// everything destined for the client goes through its outbound queue.
type Connection struct {
	ID         string
	Identity   auth.Identity
	Gated      bool
	RemoteAddr string
	UserAgent  string
	CreatedAt  time.Time

	transport Transport
	queue     *queue
	limiter   *rate.Limiter

	// mu serializes state transitions against subscription changes
	mu    sync.Mutex
	state atomic.Int32

	delivered atomic.Uint64

	ctx        context.Context
	cancel     context.CancelFunc
	writerDone chan struct{}
	closed     chan struct{}
}

// State returns the current lifecycle state
func (c *Connection) State() State {
	return State(c.state.Load())
}

// IsOpen reports whether subscribe, unsubscribe and send are meaningful
func (c *Connection) IsOpen() bool {
	return c.State() == StateOpen
}

// Delivered returns the number of frames written to the transport
func (c *Connection) Delivered() uint64 {
	return c.delivered.Load()
}

// Dropped returns the number of frames evicted on queue overflow
func (c *Connection) Dropped() uint64 {
	return c.queue.droppedCount()
}

// Pending returns the number of frames waiting to be written
func (c *Connection) Pending() int {
	return c.queue.len()
}

// Closed is closed once teardown has completed
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// withOpen runs fn while holding the transition lock, only if the
// connection is open
func (c *Connection) withOpen(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateOpen {
		return false
	}
	fn()
	return true
}

// beginClose moves an open or connecting connection to CLOSING. Only the
// first caller gets true.
func (c *Connection) beginClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateConnecting, StateOpen:
		c.setState(StateClosing)
		return true
	default:
		return false
	}
}
