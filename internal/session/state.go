package session

import (
	"errors"
	"io"
)

// ErrConnectionClosed is returned by Serve for a connection torn down before
// its inbound loop started
var ErrConnectionClosed = errors.New("connection closed")

// ErrManagerClosed is returned by Accept once Shutdown has begun
var ErrManagerClosed = errors.New("connection manager is shut down")

// ErrClientClosed is returned by a Transport read when the client closed the
// connection normally
var ErrClientClosed = errors.New("client closed connection")

// State of one connection: CONNECTING -> OPEN -> CLOSING -> CLOSED
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close codes passed to Transport.Close, matching RFC 6455
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Disconnect reasons, also used as the metrics label
const (
	ReasonClientClosed = "client_closed"
	ReasonReadError    = "read_error"
	ReasonWriteFailure = "write_failure"
	ReasonServer       = "server_disconnect"
	ReasonShutdown     = "shutdown"
)

func closeCodeFor(reason string) int {
	switch reason {
	case ReasonWriteFailure, ReasonReadError:
		return CloseInternalError
	case ReasonShutdown:
		return CloseGoingAway
	default:
		return CloseNormal
	}
}

func isNormalClose(err error) bool {
	return errors.Is(err, ErrClientClosed) || errors.Is(err, io.EOF)
}

// Transport is the bidirectional message channel of one client. The
// connection that owns it is the only writer.
type Transport interface {
	// ReadMessage blocks for the next inbound text frame
	ReadMessage() ([]byte, error)
	// WriteMessage writes one outbound text frame
	WriteMessage(data []byte) error
	// Close tears the transport down; it must be safe to call concurrently
	// with ReadMessage and WriteMessage, and more than once
	Close(code int, reason string) error
}
