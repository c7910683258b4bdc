package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsWriteWait bounds a single frame write.
	wsWriteWait = 10 * time.Second
	// wsPongWait is how long the link may stay silent before the read
	// loop declares it dead.
	wsPongWait = 60 * time.Second
	// wsPingInterval must be shorter than wsPongWait.
	wsPingInterval = 25 * time.Second
)

// wsTransport is the primary push-channel framing: JSON frames over a
// WebSocket, kept alive with ping/pong.
type wsTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// DialWebSocket establishes the WebSocket framing mode against the push
// origin. The connect metadata travels as headers in the handshake.
func DialWebSocket(ctx context.Context, origin string, meta DialMeta) (Transport, error) {
	header := http.Header{}
	if meta.Token != "" {
		header.Set("Authorization", "Bearer "+meta.Token)
	}
	if meta.Instance != "" {
		header.Set("X-Client-Instance", meta.Instance)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL(origin), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	t := &wsTransport{
		conn: conn,
		done: make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go t.pingLoop()

	return t, nil
}

// wsURL rewrites the HTTP push origin to its WebSocket equivalent.
func wsURL(origin string) string {
	u := origin
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimRight(u, "/") + "/realtime/ws"
}

func (t *wsTransport) Send(f Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteJSON(f)
}

func (t *wsTransport) Receive() (Frame, error) {
	var f Frame
	if err := t.conn.ReadJSON(&f); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Frame{}, ErrServerClosed
		}
		return Frame{}, err
	}
	return f, nil
}

// pingLoop keeps the link alive; a peer that stops answering makes Receive
// fail via the read deadline, which surfaces as an unexpected drop.
func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (t *wsTransport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)

	t.writeMu.Lock()
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()

	return t.conn.Close()
}

func (t *wsTransport) Mode() string {
	return "websocket"
}
