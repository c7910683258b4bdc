package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory transport with failure injection.
type fakeTransport struct {
	frames chan Frame
	errs   chan error

	mu     sync.Mutex
	sent   []Frame
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames: make(chan Frame, 16),
		errs:   make(chan error, 1),
	}
}

func (t *fakeTransport) Send(f Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	t.sent = append(t.sent, f)
	return nil
}

func (t *fakeTransport) Receive() (Frame, error) {
	select {
	case f := <-t.frames:
		return f, nil
	case err := <-t.errs:
		return Frame{}, err
	}
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	select {
	case t.errs <- errors.New("transport closed"):
	default:
	}
	return nil
}

func (t *fakeTransport) Mode() string { return "fake" }

func (t *fakeTransport) sentFrames() []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Frame, len(t.sent))
	copy(out, t.sent)
	return out
}

// chaosDialer scripts dial outcomes: the first failDials attempts fail.
type chaosDialer struct {
	mu         sync.Mutex
	failDials  int
	dials      int
	transports []*fakeTransport
	lastMeta   DialMeta
	gate       chan struct{} // when set, dials block until the gate closes
	gateFrom   int           // first dial (1-based) the gate applies to; 0 gates all
}

func (d *chaosDialer) dial(ctx context.Context, origin string, meta DialMeta) (Transport, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.lastMeta = meta
	gate, gateFrom := d.gate, d.gateFrom
	d.mu.Unlock()

	if gate != nil && n >= gateFrom {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= d.failDials {
		return nil, fmt.Errorf("chaos: dial %d refused", n)
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *chaosDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *chaosDialer) lastTransport() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *chaosDialer) meta() DialMeta {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastMeta
}

func (d *chaosDialer) openTransports() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	open := 0
	for _, t := range d.transports {
		t.mu.Lock()
		if !t.closed {
			open++
		}
		t.mu.Unlock()
	}
	return open
}

func newTestConn(d *chaosDialer) *ConnManager {
	return NewConnManager(Config{
		Origin:         "http://push.test",
		BackoffInitial: 10 * time.Millisecond,
		BackoffMax:     50 * time.Millisecond,
		Dial:           d.dial,
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnManagerConnect(t *testing.T) {
	d := &chaosDialer{}
	cm := newTestConn(d)
	defer cm.Disconnect()

	if err := cm.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if !cm.IsConnected() {
		t.Error("expected connected state")
	}

	status := cm.Status()
	if !status.Connected || status.Connecting || status.ReconnectAttempts != 0 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestConnManagerDialCarriesMetadata(t *testing.T) {
	d := &chaosDialer{}
	cm := NewConnManager(Config{
		Origin:         "http://push.test",
		InstanceID:     "inst-7f3a",
		BackoffInitial: 10 * time.Millisecond,
		BackoffMax:     50 * time.Millisecond,
		Dial:           d.dial,
	})
	defer cm.Disconnect()

	if err := cm.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	meta := d.meta()
	if meta.Token != "tok" {
		t.Errorf("expected bearer credential in dial metadata, got %q", meta.Token)
	}
	if meta.Instance != "inst-7f3a" {
		t.Errorf("expected instance id in dial metadata, got %q", meta.Instance)
	}
}

func TestConnManagerConnectIdempotent(t *testing.T) {
	d := &chaosDialer{}
	cm := newTestConn(d)
	defer cm.Disconnect()

	if err := cm.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := cm.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	if d.dialCount() != 1 {
		t.Errorf("expected 1 dial, got %d", d.dialCount())
	}
}

func TestConnManagerConcurrentConnectSharesAttempt(t *testing.T) {
	gate := make(chan struct{})
	d := &chaosDialer{gate: gate}
	cm := newTestConn(d)
	defer cm.Disconnect()

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- cm.Connect(context.Background(), "tok")
		}()
	}

	// Let both goroutines reach the manager before releasing the dial.
	time.Sleep(20 * time.Millisecond)
	close(gate)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Connect %d: %v", i, err)
		}
	}

	if d.dialCount() != 1 {
		t.Errorf("expected a single shared dial, got %d", d.dialCount())
	}
}

func TestConnManagerConnectFailureSchedulesRetries(t *testing.T) {
	d := &chaosDialer{failDials: 1000}
	cm := newTestConn(d)
	defer cm.Disconnect()

	err := cm.Connect(context.Background(), "tok")
	if err == nil {
		t.Fatal("expected connect error")
	}

	// The failed call does not block retries: the manager keeps trying in
	// the background until the attempt cap.
	waitFor(t, 2*time.Second, func() bool {
		return cm.Status().ReconnectAttempts == 5 && !cm.Status().Connecting
	}, "expected reconnect attempts to reach the cap and stop")

	dials := d.dialCount()
	if dials != 6 { // initial + 5 scheduled
		t.Errorf("expected 6 dials (1 + 5 retries), got %d", dials)
	}

	// No further attempt once the cap is hit.
	time.Sleep(100 * time.Millisecond)
	if d.dialCount() != dials {
		t.Errorf("attempt scheduled past the cap: %d -> %d", dials, d.dialCount())
	}
}

func TestConnManagerReconnectAttemptsProgress(t *testing.T) {
	d := &chaosDialer{failDials: 1000}
	cm := newTestConn(d)
	defer cm.Disconnect()

	cm.Connect(context.Background(), "tok")

	waitFor(t, time.Second, func() bool {
		s := cm.Status()
		return s.ReconnectAttempts == 1 && s.Connecting
	}, "expected reconnectAttempts:1 with connecting:true after first failure")

	waitFor(t, time.Second, func() bool {
		return cm.Status().ReconnectAttempts >= 2
	}, "expected reconnectAttempts:2 after second failure")
}

func TestConnManagerUnexpectedDropReconnects(t *testing.T) {
	d := &chaosDialer{}
	cm := newTestConn(d)
	defer cm.Disconnect()

	if err := cm.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var mu sync.Mutex
	var gotDisconnect, gotReconnect bool
	cm.On(EventDisconnect, func(json.RawMessage) {
		mu.Lock()
		gotDisconnect = true
		mu.Unlock()
	})
	cm.On(EventConnect, func(json.RawMessage) {
		mu.Lock()
		gotReconnect = true
		mu.Unlock()
	})

	// Simulate a transport drop.
	d.lastTransport().errs <- errors.New("chaos: link reset")

	waitFor(t, time.Second, func() bool {
		return cm.IsConnected() && d.dialCount() == 2
	}, "expected automatic reconnect after unexpected drop")

	// Attempt counter resets on success.
	if got := cm.Status().ReconnectAttempts; got != 0 {
		t.Errorf("expected attempts reset to 0 after reconnect, got %d", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if !gotDisconnect || !gotReconnect {
		t.Errorf("expected disconnect+connect events, got disconnect=%v connect=%v", gotDisconnect, gotReconnect)
	}
}

func TestConnManagerServerCloseDoesNotReconnect(t *testing.T) {
	d := &chaosDialer{}
	cm := newTestConn(d)
	defer cm.Disconnect()

	if err := cm.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	d.lastTransport().errs <- ErrServerClosed

	waitFor(t, time.Second, func() bool {
		s := cm.Status()
		return !s.Connected && !s.Connecting
	}, "expected disconnected state after server close")

	time.Sleep(50 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Errorf("expected no reconnect after server close, got %d dials", d.dialCount())
	}
}

func TestConnManagerDisconnectCancelsPendingReconnect(t *testing.T) {
	d := &chaosDialer{failDials: 1000}
	cm := newTestConn(d)

	cm.Connect(context.Background(), "tok")
	waitFor(t, time.Second, func() bool {
		return cm.Status().ReconnectAttempts >= 1
	}, "expected a scheduled reconnect")

	cm.Disconnect()
	dials := d.dialCount()

	time.Sleep(100 * time.Millisecond)
	if d.dialCount() != dials {
		t.Errorf("reconnect fired after Disconnect: %d -> %d", dials, d.dialCount())
	}

	status := cm.Status()
	if status.ReconnectAttempts != 0 || status.Connecting || status.Connected {
		t.Errorf("expected reset status after Disconnect, got %+v", status)
	}
}

func TestConnManagerConnectJoinsReconnectDial(t *testing.T) {
	gate := make(chan struct{})
	d := &chaosDialer{failDials: 1, gate: gate, gateFrom: 2}
	cm := newTestConn(d)
	defer cm.Disconnect()

	// The initial dial fails and arms the reconnect timer.
	if err := cm.Connect(context.Background(), "tok"); err == nil {
		t.Fatal("expected initial connect to fail")
	}

	// Wait until the timer-driven dial is in flight behind the gate.
	waitFor(t, time.Second, func() bool {
		return d.dialCount() == 2
	}, "expected the scheduled reconnect to start dialing")

	// A Connect issued now must join the in-flight attempt, not start a
	// third dial.
	errs := make(chan error, 1)
	go func() { errs <- cm.Connect(context.Background(), "tok") }()

	time.Sleep(20 * time.Millisecond)
	close(gate)

	if err := <-errs; err != nil {
		t.Fatalf("Connect during reconnect: %v", err)
	}
	waitFor(t, time.Second, cm.IsConnected, "expected connected state")

	if got := d.dialCount(); got != 2 {
		t.Errorf("expected Connect to share the in-flight dial (2 total), got %d", got)
	}
	if open := d.openTransports(); open != 1 {
		t.Errorf("expected exactly 1 live transport, got %d open", open)
	}
}

func TestConnManagerDisconnectDuringDialWins(t *testing.T) {
	gate := make(chan struct{})
	d := &chaosDialer{gate: gate}
	cm := newTestConn(d)

	errs := make(chan error, 1)
	go func() { errs <- cm.Connect(context.Background(), "tok") }()

	waitFor(t, time.Second, func() bool {
		return d.dialCount() == 1
	}, "expected a dial in flight")

	// Tear the session down while the handshake is still running, then let
	// the dial complete.
	cm.Disconnect()
	close(gate)

	if err := <-errs; err == nil {
		t.Error("expected Connect to report the torn-down attempt")
	}

	// The late transport must not resurrect the connection.
	time.Sleep(50 * time.Millisecond)
	status := cm.Status()
	if status.Connected || status.Connecting {
		t.Errorf("expected disconnected state, got %+v", status)
	}
	if open := d.openTransports(); open != 0 {
		t.Errorf("expected the late transport closed, got %d open", open)
	}
	if got := d.dialCount(); got != 1 {
		t.Errorf("expected no retry after Disconnect, got %d dials", got)
	}
}

func TestConnManagerSubscribe(t *testing.T) {
	d := &chaosDialer{}
	cm := newTestConn(d)
	defer cm.Disconnect()

	// Not connected: subscription intents are no-ops, not errors.
	if err := cm.Subscribe(TopicInventory); err != nil {
		t.Errorf("Subscribe while disconnected: %v", err)
	}

	if err := cm.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := cm.Subscribe(TopicInventory); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := cm.Unsubscribe(TopicAlerts); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	frames := d.lastTransport().sentFrames()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Event != "subscribe:inventory" {
		t.Errorf("expected subscribe:inventory, got %q", frames[0].Event)
	}
	if frames[1].Event != "unsubscribe:alerts" {
		t.Errorf("expected unsubscribe:alerts, got %q", frames[1].Event)
	}
}

func TestConnManagerEventDispatch(t *testing.T) {
	d := &chaosDialer{}
	cm := newTestConn(d)
	defer cm.Disconnect()

	if err := cm.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	got := make(chan string, 1)
	cm.On("inventory:update", func(data json.RawMessage) {
		var v struct {
			Action string `json:"action"`
		}
		json.Unmarshal(data, &v)
		got <- v.Action
	})

	d.lastTransport().frames <- Frame{
		Event: "inventory:update",
		Data:  json.RawMessage(`{"action":"created"}`),
	}

	select {
	case action := <-got:
		if action != "created" {
			t.Errorf("expected action created, got %q", action)
		}
	case <-time.After(time.Second):
		t.Error("event not dispatched")
	}
}
