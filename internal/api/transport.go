package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang-intel-service/internal/session"

	"github.com/gorilla/websocket"
)

// wsTransport adapts a gorilla connection to session.Transport. The session
// streaming loop is the only caller of WriteMessage; Close and the keepalive
// use WriteControl, which gorilla allows concurrently with other methods.
type wsTransport struct {
	conn         *websocket.Conn
	writeWait    time.Duration
	pingInterval time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newWSTransport(conn *websocket.Conn, writeWait, pingInterval time.Duration) *wsTransport {
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	t := &wsTransport{
		conn:         conn,
		writeWait:    writeWait,
		pingInterval: pingInterval,
		done:         make(chan struct{}),
	}

	if pingInterval > 0 {
		pongWait := 2 * pingInterval
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go t.keepalive()
	}
	return t
}

// keepalive pings the client until the transport closes. A failed ping
// closes the socket so the pending read returns.
func (t *wsTransport) keepalive() {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeWait)); err != nil {
				_ = t.conn.Close()
				return
			}
		}
	}
}

// ReadMessage returns the next text or binary frame
func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, fmt.Errorf("%w: %v", session.ErrClientClosed, err)
		}
		return nil, err
	}
	return data, nil
}

// WriteMessage writes one text frame within the write deadline
func (t *wsTransport) WriteMessage(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame carrying code and closes the socket
func (t *wsTransport) Close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(code, reason)
		if werr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeWait)); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			err = werr
		}
		if cerr := t.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
