package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Frame is the wire unit of the push channel in both framing modes: a named
// event with an opaque JSON payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrServerClosed is returned by Transport.Receive when the server explicitly
// asked the client to leave. The connection manager does not reconnect after
// a server-initiated close.
var ErrServerClosed = errors.New("server closed the connection")

// Transport is one framing mode of the push channel.
type Transport interface {
	// Send emits a client-to-server frame.
	Send(Frame) error
	// Receive blocks for the next server-to-client frame. It returns
	// ErrServerClosed on a server-initiated close and any other error on
	// an unexpected drop.
	Receive() (Frame, error)
	// Close tears the transport down.
	Close() error
	// Mode names the framing mode ("websocket" or "sse").
	Mode() string
}

// DialMeta is the connect metadata carried in the transport handshake: the
// bearer credential and the client instance identity.
type DialMeta struct {
	Token    string
	Instance string
}

// DialFunc establishes a transport against the push origin.
type DialFunc func(ctx context.Context, origin string, meta DialMeta) (Transport, error)

// DialWithFallback tries the WebSocket framing first and falls back to SSE
// for compatibility with intermediaries that break upgrades.
func DialWithFallback(ctx context.Context, origin string, meta DialMeta) (Transport, error) {
	t, wsErr := DialWebSocket(ctx, origin, meta)
	if wsErr == nil {
		return t, nil
	}

	t, sseErr := DialSSE(ctx, origin, meta)
	if sseErr == nil {
		return t, nil
	}

	return nil, fmt.Errorf("dial push channel: websocket: %v; sse: %w", wsErr, sseErr)
}
