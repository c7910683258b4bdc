// Package realtime maintains the persistent push channel to the Shelfline
// backend: authenticated connect, topic subscriptions, typed event dispatch,
// and bounded-attempt reconnection with exponential backoff.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shelfline/shelfline/internal/metrics"
	"github.com/shelfline/shelfline/internal/models"
)

// Topics a client can opt into.
const (
	TopicInventory = "inventory"
	TopicAlerts    = "alerts"
)

// Transport-level synthetic events.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// ConnState represents the connection state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config configures the connection manager.
type Config struct {
	Origin string // push-channel origin, e.g. https://push.example.com

	// InstanceID identifies this client instance in the connect handshake.
	InstanceID string

	MaxReconnectAttempts int           // default 5
	BackoffInitial       time.Duration // default 1s
	BackoffMax           time.Duration // default 30s

	// Dial establishes the transport. Defaults to DialWithFallback;
	// injectable for tests.
	Dial DialFunc
}

// ErrNotConnected is returned by verbs that require a live channel.
var ErrNotConnected = errors.New("push channel not connected")

// errAttemptSuperseded marks a dial whose result arrived after a Disconnect
// or a newer connection invalidated it.
var errAttemptSuperseded = errors.New("connection attempt superseded")

// connectAttempt lets concurrent Connect calls wait on the one in flight.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// ConnManager owns the single persistent push channel. States move
// disconnected → connecting → connected; an unexpected drop re-enters
// connecting via the reconnect timer, a server-initiated close lands in
// disconnected for good.
type ConnManager struct {
	config  Config
	backoff *Backoff
	events  *eventRegistry
	verbose bool

	mu             sync.Mutex
	state          ConnState
	transport      Transport
	token          string
	pending        *connectAttempt
	reconnectTimer *time.Timer // single authoritative pending-task slot
	generation     int         // invalidates stale read loops
}

// NewConnManager creates a connection manager for the given push origin.
func NewConnManager(cfg Config) *ConnManager {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = DialWithFallback
	}

	return &ConnManager{
		config:  cfg,
		backoff: NewBackoff(cfg.BackoffInitial, cfg.BackoffMax),
		events:  newEventRegistry(),
	}
}

// SetVerbose enables verbose logging.
func (cm *ConnManager) SetVerbose(v bool) {
	cm.verbose = v
	cm.events.verbose = v
}

// On registers a handler for an event. Handlers run in registration order.
func (cm *ConnManager) On(event string, h Handler) Subscription {
	return cm.events.add(event, h)
}

// Off removes a previously registered handler.
func (cm *ConnManager) Off(event string, id Subscription) {
	cm.events.remove(event, id)
}

// IsConnected reports whether the channel is live.
func (cm *ConnManager) IsConnected() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state == StateConnected
}

// Status returns a fresh Connection Status snapshot.
func (cm *ConnManager) Status() models.ConnectionStatus {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return models.ConnectionStatus{
		Connected:            cm.state == StateConnected,
		Connecting:           cm.state == StateConnecting,
		ReconnectAttempts:    cm.backoff.Attempt(),
		MaxReconnectAttempts: cm.config.MaxReconnectAttempts,
	}
}

// Connect establishes the channel with the given bearer credential. It is
// idempotent: a call while connected returns immediately, and a call while
// an attempt is in flight waits on that attempt instead of starting another.
// A failed attempt returns its error but still schedules background retries.
func (cm *ConnManager) Connect(ctx context.Context, token string) error {
	cm.mu.Lock()
	if cm.state == StateConnected {
		cm.mu.Unlock()
		return nil
	}
	if cm.pending != nil {
		attempt := cm.pending
		cm.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-attempt.done:
			return attempt.err
		}
	}

	attempt := &connectAttempt{done: make(chan struct{})}
	cm.pending = attempt
	cm.token = token
	cm.state = StateConnecting
	cm.mu.Unlock()

	err := cm.dial(ctx)

	cm.mu.Lock()
	cm.pending = nil
	// A Disconnect during the dial moves the state off connecting; do not
	// schedule retries for a session that was torn down.
	if err != nil && cm.state == StateConnecting {
		cm.scheduleReconnectLocked()
	}
	cm.mu.Unlock()

	attempt.err = err
	close(attempt.done)

	if err != nil {
		if !errors.Is(err, errAttemptSuperseded) {
			cm.logf("connect failed: %v", err)
			cm.emitLocal(EventConnectError, err.Error())
		}
		return err
	}
	return nil
}

// Disconnect closes the channel, cancels any pending reconnect timer, and
// resets the attempt counter.
func (cm *ConnManager) Disconnect() {
	cm.mu.Lock()
	cm.state = StateDisconnected
	cm.generation++
	if cm.reconnectTimer != nil {
		cm.reconnectTimer.Stop()
		cm.reconnectTimer = nil
	}
	cm.backoff.Reset()
	t := cm.transport
	cm.transport = nil
	cm.mu.Unlock()

	if t != nil {
		t.Close()
	}
	metrics.PushConnected.Set(0)
	cm.logf("disconnected")
}

// Subscribe emits a subscription intent for a topic. No-op when the channel
// is not connected.
func (cm *ConnManager) Subscribe(topic string) error {
	return cm.sendVerb("subscribe:" + topic)
}

// Unsubscribe emits an unsubscription intent for a topic. No-op when the
// channel is not connected.
func (cm *ConnManager) Unsubscribe(topic string) error {
	return cm.sendVerb("unsubscribe:" + topic)
}

// Send emits an arbitrary client-to-server verb with an optional payload.
func (cm *ConnManager) Send(event string, payload any) error {
	cm.mu.Lock()
	t := cm.transport
	connected := cm.state == StateConnected
	cm.mu.Unlock()

	if !connected || t == nil {
		return ErrNotConnected
	}

	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", event, err)
		}
		data = encoded
	}
	return t.Send(Frame{Event: event, Data: data})
}

func (cm *ConnManager) sendVerb(verb string) error {
	err := cm.Send(verb, nil)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// dial establishes the transport and, on success, flips to connected and
// starts the read loop. A Disconnect that lands while the dial is in flight
// wins: the late transport is discarded and closed instead of installed.
func (cm *ConnManager) dial(ctx context.Context) error {
	cm.mu.Lock()
	meta := DialMeta{Token: cm.token, Instance: cm.config.InstanceID}
	gen := cm.generation
	cm.mu.Unlock()

	t, err := cm.config.Dial(ctx, cm.config.Origin, meta)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	if cm.generation != gen || cm.state != StateConnecting {
		cm.mu.Unlock()
		t.Close()
		return errAttemptSuperseded
	}
	old := cm.transport
	cm.transport = t
	cm.state = StateConnected
	cm.backoff.Reset()
	cm.generation++
	gen = cm.generation
	cm.mu.Unlock()

	if old != nil {
		old.Close()
	}

	metrics.PushConnected.Set(1)
	cm.logf("connected via %s", t.Mode())
	go cm.readLoop(t, gen)
	cm.emitLocal(EventConnect, t.Mode())
	return nil
}

// readLoop dispatches inbound frames until the transport fails or a newer
// connection supersedes it.
func (cm *ConnManager) readLoop(t Transport, gen int) {
	for {
		frame, err := t.Receive()
		if err != nil {
			cm.handleDrop(t, gen, err)
			return
		}

		cm.mu.Lock()
		stale := cm.generation != gen
		cm.mu.Unlock()
		if stale {
			return
		}

		metrics.PushEventsTotal.WithLabelValues(frame.Event).Inc()
		cm.events.emit(frame.Event, frame.Data)
	}
}

// handleDrop reacts to a broken transport: reconnect on an unexpected drop,
// stay down on a server-initiated close.
func (cm *ConnManager) handleDrop(t Transport, gen int, err error) {
	cm.mu.Lock()
	if cm.generation != gen {
		// A Disconnect or newer connection already superseded this loop.
		cm.mu.Unlock()
		t.Close()
		return
	}
	cm.transport = nil
	serverClose := errors.Is(err, ErrServerClosed)
	if serverClose {
		cm.state = StateDisconnected
	} else {
		cm.state = StateConnecting
		cm.scheduleReconnectLocked()
	}
	cm.mu.Unlock()

	t.Close()
	metrics.PushConnected.Set(0)

	if serverClose {
		cm.logf("server closed the channel, not reconnecting")
	} else {
		cm.logf("channel dropped: %v", err)
	}
	cm.emitLocal(EventDisconnect, err.Error())
}

// scheduleReconnectLocked arms the single reconnect timer. The attempt
// counter increments first; once it reaches the cap no further attempt is
// scheduled. Caller holds cm.mu.
func (cm *ConnManager) scheduleReconnectLocked() {
	if cm.backoff.Attempt() >= cm.config.MaxReconnectAttempts {
		cm.logf("max reconnect attempts (%d) reached, giving up", cm.config.MaxReconnectAttempts)
		cm.state = StateDisconnected
		return
	}

	delay := cm.backoff.Next()
	cm.logf("reconnect attempt %d/%d in %v", cm.backoff.Attempt(), cm.config.MaxReconnectAttempts, delay)

	if cm.reconnectTimer != nil {
		cm.reconnectTimer.Stop()
	}
	cm.reconnectTimer = time.AfterFunc(delay, cm.reconnect)
}

// reconnect is the timer callback for a scheduled reconnect attempt. It
// publishes the attempt in the pending slot so a Connect issued while the
// dial is in flight joins it instead of starting a second one.
func (cm *ConnManager) reconnect() {
	cm.mu.Lock()
	if cm.state != StateConnecting || cm.pending != nil {
		cm.mu.Unlock()
		return
	}
	cm.reconnectTimer = nil
	attempt := &connectAttempt{done: make(chan struct{})}
	cm.pending = attempt
	cm.mu.Unlock()

	metrics.PushReconnectsTotal.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := cm.dial(ctx)

	cm.mu.Lock()
	cm.pending = nil
	if err != nil && cm.state == StateConnecting {
		cm.scheduleReconnectLocked()
	}
	cm.mu.Unlock()

	attempt.err = err
	close(attempt.done)

	if err != nil && !errors.Is(err, errAttemptSuperseded) {
		cm.logf("reconnect failed: %v", err)
		cm.emitLocal(EventConnectError, err.Error())
	}
}

// emitLocal dispatches a transport-level synthetic event.
func (cm *ConnManager) emitLocal(event, detail string) {
	payload, _ := json.Marshal(map[string]string{"detail": detail})
	cm.events.emit(event, payload)
}

func (cm *ConnManager) logf(format string, args ...interface{}) {
	if cm.verbose {
		log.Printf("[realtime] "+format, args...)
	}
}
