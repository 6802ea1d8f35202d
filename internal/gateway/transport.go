package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hermes/pkg/errors"
)

// Transport is one client's live attachment: a WebSocket connection or an
// SSE response stream. Implementations must tolerate Close being called
// more than once and concurrently with Send.
type Transport interface {
	// Send delivers one wire message. A failed send means the transport
	// is dead; callers unbind it.
	Send(msg WireMessage) error

	// Close tears the transport down.
	Close() error

	// Kind reports the transport flavor for logging and metrics.
	Kind() string
}

// WebSocketTransport wraps a gorilla connection. Writes are serialized:
// gorilla connections do not allow concurrent writers.
type WebSocketTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewWebSocketTransport wraps an upgraded connection.
func NewWebSocketTransport(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketTransport {
	return &WebSocketTransport{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// Send writes one JSON message to the socket.
func (t *WebSocketTransport) Send(msg WireMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.ErrTransportClosed
	}

	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if err := t.conn.WriteJSON(msg); err != nil {
		return errors.Wrap(errors.ErrTransportClosed, err.Error())
	}
	return nil
}

// Close sends a close frame best-effort and shuts the socket.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return t.conn.Close()
}

// Kind reports "websocket".
func (t *WebSocketTransport) Kind() string { return "websocket" }

// SSETransport pushes wire messages as server-sent events on an open HTTP
// response. It is write-only; Close only stops future sends, the HTTP
// handler owns the response lifecycle.
type SSETransport struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
}

// NewSSETransport prepares a response writer for event streaming. Returns
// an error if the writer cannot flush incrementally.
func NewSSETransport(w http.ResponseWriter) (*SSETransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.Wrap(errors.ErrInvalidInput, "response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &SSETransport{w: w, flusher: flusher}, nil
}

// Send writes one SSE data frame and flushes it.
func (t *SSETransport) Send(msg WireMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.ErrTransportClosed
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal wire message")
	}

	if _, err := t.w.Write([]byte("data: ")); err != nil {
		return errors.Wrap(errors.ErrTransportClosed, err.Error())
	}
	if _, err := t.w.Write(payload); err != nil {
		return errors.Wrap(errors.ErrTransportClosed, err.Error())
	}
	if _, err := t.w.Write([]byte("\n\n")); err != nil {
		return errors.Wrap(errors.ErrTransportClosed, err.Error())
	}

	t.flusher.Flush()
	return nil
}

// Close marks the stream finished.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Kind reports "sse".
func (t *SSETransport) Kind() string { return "sse" }
