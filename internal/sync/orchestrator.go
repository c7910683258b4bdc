// Package sync bridges push-channel events to notification and alert store
// mutations and decides the alert re-check cadence from channel health.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shelfline/shelfline/internal/metrics"
	"github.com/shelfline/shelfline/internal/models"
	"github.com/shelfline/shelfline/internal/notify"
	"github.com/shelfline/shelfline/internal/realtime"
)

// Push event names delivered by the backend.
const (
	eventInventoryUpdate    = "inventory:update"
	eventAlertsNew          = "alerts:new"
	eventAlertsUpdate       = "alerts:update"
	eventNotification       = "notification"
	eventSystemNotification = "system:notification"
	eventError              = "error"
)

// verbCheckAlerts asks the server to re-emit current alert state over the
// channel.
const verbCheckAlerts = "check:alerts"

// Default re-check intervals. Polling speeds up only when the push channel
// is unavailable.
const (
	DefaultRecheckConnected    = 10 * time.Minute
	DefaultRecheckDisconnected = 5 * time.Minute
)

// Channel is the push-channel surface the orchestrator consumes. Satisfied
// by *realtime.ConnManager.
type Channel interface {
	On(event string, h realtime.Handler) realtime.Subscription
	Off(event string, id realtime.Subscription)
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Send(event string, payload any) error
	IsConnected() bool
	Status() models.ConnectionStatus
}

// AlertSource fetches authoritative alert state over REST. It is the
// fallback data path while the push channel is down.
type AlertSource interface {
	FetchAlerts(ctx context.Context) ([]models.AlertEvent, error)
}

// Config controls orchestrator behavior per consumer.
type Config struct {
	// Topics to subscribe on every successful connect.
	Topics []string

	// Actor returns the current session's user id. Events originated by
	// this actor never produce a notification.
	Actor func() string

	RecheckConnected    time.Duration
	RecheckDisconnected time.Duration
}

// Orchestrator composes the connection manager, the store, and the REST
// alert source. Create with New, wire with Start, release with Close.
type Orchestrator struct {
	cfg     Config
	conn    Channel
	store   *notify.Store
	source  AlertSource
	notices *notify.Limiter
	verbose bool

	mu     sync.Mutex
	subs   map[string]realtime.Subscription
	timer  *time.Timer
	closed bool
}

// New creates an orchestrator. Start must be called to register handlers
// and arm the re-check timer.
func New(conn Channel, store *notify.Store, source AlertSource, cfg Config) *Orchestrator {
	if cfg.RecheckConnected <= 0 {
		cfg.RecheckConnected = DefaultRecheckConnected
	}
	if cfg.RecheckDisconnected <= 0 {
		cfg.RecheckDisconnected = DefaultRecheckDisconnected
	}
	if cfg.Actor == nil {
		cfg.Actor = func() string { return "" }
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = []string{realtime.TopicInventory, realtime.TopicAlerts}
	}
	return &Orchestrator{
		cfg:     cfg,
		conn:    conn,
		store:   store,
		source:  source,
		notices: notify.NewLimiter(3, 5*time.Minute),
		subs:    make(map[string]realtime.Subscription),
	}
}

// SetVerbose enables verbose logging.
func (o *Orchestrator) SetVerbose(v bool) {
	o.verbose = v
}

// SetRecheckIntervals adjusts the re-check cadence at runtime and re-arms
// the timer. Non-positive values keep the current interval.
func (o *Orchestrator) SetRecheckIntervals(connected, disconnected time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if connected > 0 {
		o.cfg.RecheckConnected = connected
	}
	if disconnected > 0 {
		o.cfg.RecheckDisconnected = disconnected
	}
	if o.closed {
		return
	}
	o.scheduleLocked()
}

// Start registers push handlers and arms the periodic re-check timer.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	handlers := map[string]realtime.Handler{
		realtime.EventConnect:      o.handleConnect,
		realtime.EventDisconnect:   o.handleDisconnect,
		realtime.EventConnectError: o.handleConnectError,
		eventError:                 o.handleChannelError,
		eventInventoryUpdate:       o.handleInventory,
		eventAlertsNew:             o.handleAlertNew,
		eventAlertsUpdate:          o.handleAlertUpdate,
		eventNotification:          o.handleNotification,
		eventSystemNotification:    o.handleNotification,
	}
	for event, h := range handlers {
		o.subs[event] = o.conn.On(event, h)
	}

	o.scheduleLocked()
}

// Close releases every handler registration and timer owned by the
// orchestrator. No re-check fires after Close returns.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true

	for event, id := range o.subs {
		o.conn.Off(event, id)
		delete(o.subs, event)
	}
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

// IsConnected reports push channel health.
func (o *Orchestrator) IsConnected() bool {
	return o.conn.IsConnected()
}

// ConnectionStatus returns a fresh connection status snapshot.
func (o *Orchestrator) ConnectionStatus() models.ConnectionStatus {
	return o.conn.Status()
}

// CheckAlerts triggers a manual alert re-check. Connected, it asks the
// server to re-emit alert state over the channel; disconnected, it falls
// back to the REST alert source.
func (o *Orchestrator) CheckAlerts(ctx context.Context) error {
	return o.checkAlerts(ctx, "manual")
}

func (o *Orchestrator) checkAlerts(ctx context.Context, trigger string) error {
	metrics.AlertChecksTotal.WithLabelValues(trigger).Inc()

	if o.conn.IsConnected() {
		if err := o.conn.Send(verbCheckAlerts, nil); err == nil {
			return nil
		}
		// Channel dropped under us; fall through to REST.
	}

	if o.source == nil {
		return fmt.Errorf("alert check: no REST source configured")
	}
	alerts, err := o.source.FetchAlerts(ctx)
	if err != nil {
		return fmt.Errorf("alert check: %w", err)
	}
	for _, ev := range alerts {
		o.ingestAlert(ev)
	}
	o.logf("alert re-check (%s): %d alerts fetched", trigger, len(alerts))
	return nil
}

// periodic is the re-check timer callback. It runs the check and re-arms
// the timer at the cadence matching current channel health.
func (o *Orchestrator) periodic() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.checkAlerts(ctx, "periodic"); err != nil {
		o.logf("periodic re-check: %v", err)
	}

	o.mu.Lock()
	o.scheduleLocked()
	o.mu.Unlock()
}

// scheduleLocked re-arms the single re-check timer slot.
func (o *Orchestrator) scheduleLocked() {
	if o.closed {
		return
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	interval := o.cfg.RecheckDisconnected
	if o.conn.IsConnected() {
		interval = o.cfg.RecheckConnected
	}
	o.timer = time.AfterFunc(interval, o.periodic)
}

// reschedule adjusts the timer after a channel state change.
func (o *Orchestrator) reschedule() {
	o.mu.Lock()
	o.scheduleLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) handleConnect(json.RawMessage) {
	for _, topic := range o.cfg.Topics {
		if err := o.conn.Subscribe(topic); err != nil {
			o.logf("subscribe %s: %v", topic, err)
		}
	}
	o.logf("channel connected, subscribed to %v", o.cfg.Topics)
	o.reschedule()
}

func (o *Orchestrator) handleDisconnect(json.RawMessage) {
	o.reschedule()
}

func (o *Orchestrator) handleConnectError(json.RawMessage) {
	o.degradedNotice()
	o.reschedule()
}

func (o *Orchestrator) handleChannelError(data json.RawMessage) {
	o.logf("channel error event: %s", data)
	o.degradedNotice()
}

// degradedNotice surfaces channel trouble without flooding the store under
// a flapping link. Never fatal; REST polling remains the data path.
func (o *Orchestrator) degradedNotice() {
	if !o.notices.Allow() {
		return
	}
	o.store.AddNotification(notify.NotificationSpec{
		Kind:    models.NotificationWarning,
		Title:   "Connection problem",
		Message: "Real-time updates may be delayed",
	})
}

func (o *Orchestrator) handleInventory(data json.RawMessage) {
	var ev models.InventoryEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		o.logf("bad inventory event: %v", err)
		return
	}

	if actor := o.cfg.Actor(); actor != "" && ev.Actor == actor {
		// The current session caused this write; no self-notification.
		// Stock-level alerts are still derived below.
		metrics.SelfSuppressedTotal.Inc()
	} else {
		kind, title := notificationFor(ev.Action)
		o.store.AddNotification(notify.NotificationSpec{
			Kind:    kind,
			Title:   title,
			Message: fmt.Sprintf("%s (%s)", ev.Item.Name, ev.Item.SKU),
		})
	}

	if ev.Action == models.InventoryStockUpdated && ev.Item.Stock <= ev.Item.MinStock {
		o.stockAlert(ev.Item)
	}
}

// notificationFor maps an inventory action to notification kind and title.
func notificationFor(action models.InventoryAction) (models.NotificationKind, string) {
	switch action {
	case models.InventoryCreated:
		return models.NotificationSuccess, "Item created"
	case models.InventoryUpdated:
		return models.NotificationInfo, "Item updated"
	case models.InventoryDeleted:
		return models.NotificationWarning, "Item deleted"
	case models.InventoryStockUpdated:
		return models.NotificationInfo, "Stock updated"
	default:
		return models.NotificationInfo, "Inventory changed"
	}
}

// stockAlert synthesizes a low/out-of-stock alert from a stock level at or
// below the minimum threshold.
func (o *Orchestrator) stockAlert(item models.InventoryItem) {
	kind := models.AlertLowStock
	title := "Low stock"
	if item.Stock <= 0 {
		kind = models.AlertOutOfStock
		title = "Out of stock"
	}

	o.store.AddAlert(notify.AlertSpec{
		Kind:     kind,
		Severity: severityForStock(item.Stock, item.MinStock),
		Title:    title,
		Message:  fmt.Sprintf("%s is at %d (minimum %d)", item.Name, item.Stock, item.MinStock),
		Subject: models.AlertSubject{
			ItemID:       item.ID,
			ItemName:     item.Name,
			SKU:          item.SKU,
			Location:     item.Location,
			Category:     item.Category,
			CurrentStock: item.Stock,
			MinStock:     item.MinStock,
		},
	})
}

// severityForStock derives severity from the stock level: critical at zero,
// high at or below a quarter of the minimum, else medium.
func severityForStock(stock, minStock int) models.Severity {
	switch {
	case stock <= 0:
		return models.SeverityCritical
	case minStock > 0 && stock*4 <= minStock:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

func (o *Orchestrator) handleAlertNew(data json.RawMessage) {
	var ev models.AlertEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		o.logf("bad alert event: %v", err)
		return
	}
	o.ingestAlert(ev)
}

// ingestAlert stores a server-delivered alert. Critical alerts additionally
// surface a persistent notification the user must dismiss.
func (o *Orchestrator) ingestAlert(ev models.AlertEvent) {
	severity := models.ParseSeverity(ev.Severity)
	o.store.AddAlert(notify.AlertSpec{
		Kind:     models.ParseAlertKind(ev.Kind),
		Severity: severity,
		Title:    ev.Title,
		Message:  ev.Message,
		Subject:  ev.Subject,
	})

	if severity == models.SeverityCritical {
		o.store.AddNotification(notify.NotificationSpec{
			Kind:       models.NotificationError,
			Title:      ev.Title,
			Message:    ev.Message,
			Persistent: true,
		})
	}
}

func (o *Orchestrator) handleAlertUpdate(data json.RawMessage) {
	var ev models.AlertEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		o.logf("bad alert update: %v", err)
		return
	}
	kind := models.ParseAlertKind(ev.Kind)
	if !o.store.SetAcknowledgedByKey(ev.Subject.Identity(), kind, ev.Acknowledged) {
		o.logf("alert update for unknown key %s|%s", ev.Subject.Identity(), kind)
	}
}

func (o *Orchestrator) handleNotification(data json.RawMessage) {
	var ev models.SystemNotificationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		o.logf("bad notification event: %v", err)
		return
	}
	o.store.AddNotification(notify.NotificationSpec{
		Kind:    models.ParseNotificationKind(ev.Kind),
		Title:   ev.Title,
		Message: ev.Message,
	})
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.verbose {
		log.Printf("[sync] "+format, args...)
	}
}
