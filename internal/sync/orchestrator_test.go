package sync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shelfline/shelfline/internal/models"
	"github.com/shelfline/shelfline/internal/notify"
	"github.com/shelfline/shelfline/internal/realtime"
)

// fakeChannel stands in for the connection manager: handlers are invoked
// directly via emit, verbs and subscriptions are recorded.
type fakeChannel struct {
	mu         sync.Mutex
	connected  bool
	handlers   map[string]map[realtime.Subscription]realtime.Handler
	nextID     realtime.Subscription
	subscribed []string
	sent       []string
	sendErr    error
}

func newFakeChannel(connected bool) *fakeChannel {
	return &fakeChannel{
		connected: connected,
		handlers:  make(map[string]map[realtime.Subscription]realtime.Handler),
	}
}

func (f *fakeChannel) On(event string, h realtime.Handler) realtime.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[realtime.Subscription]realtime.Handler)
	}
	f.handlers[event][f.nextID] = h
	return f.nextID
}

func (f *fakeChannel) Off(event string, id realtime.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers[event], id)
}

func (f *fakeChannel) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeChannel) Unsubscribe(topic string) error { return nil }

func (f *fakeChannel) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, event)
	return nil
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Status() models.ConnectionStatus {
	return models.ConnectionStatus{Connected: f.IsConnected()}
}

func (f *fakeChannel) emit(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	f.mu.Lock()
	hs := make([]realtime.Handler, 0, len(f.handlers[event]))
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func (f *fakeChannel) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.handlers {
		n += len(m)
	}
	return n
}

type fakeSource struct {
	mu     sync.Mutex
	alerts []models.AlertEvent
	calls  int
}

func (s *fakeSource) FetchAlerts(ctx context.Context) ([]models.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.alerts, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestOrchestrator(t *testing.T, ch *fakeChannel, cfg Config) (*Orchestrator, *notify.Store, *fakeSource) {
	t.Helper()
	store := notify.NewStore()
	t.Cleanup(store.Close)
	source := &fakeSource{}
	o := New(ch, store, source, cfg)
	o.Start()
	t.Cleanup(o.Close)
	return o, store, source
}

func TestConnectSubscribesConfiguredTopics(t *testing.T) {
	ch := newFakeChannel(true)
	newTestOrchestrator(t, ch, Config{})

	ch.emit(t, realtime.EventConnect, "ws")

	want := map[string]bool{realtime.TopicInventory: true, realtime.TopicAlerts: true}
	for _, topic := range ch.subscribed {
		delete(want, topic)
	}
	if len(want) != 0 {
		t.Errorf("missing subscriptions: %v (got %v)", want, ch.subscribed)
	}
}

func TestInventoryNotificationKinds(t *testing.T) {
	cases := []struct {
		action models.InventoryAction
		kind   models.NotificationKind
	}{
		{models.InventoryCreated, models.NotificationSuccess},
		{models.InventoryUpdated, models.NotificationInfo},
		{models.InventoryDeleted, models.NotificationWarning},
		{models.InventoryStockUpdated, models.NotificationInfo},
	}

	for _, tc := range cases {
		ch := newFakeChannel(true)
		_, store, _ := newTestOrchestrator(t, ch, Config{})

		ch.emit(t, eventInventoryUpdate, models.InventoryEvent{
			Action: tc.action,
			Item:   models.InventoryItem{ID: "i1", Name: "Widget", Stock: 50, MinStock: 10},
			Actor:  "someone-else",
		})

		list := store.Notifications()
		if len(list) != 1 {
			t.Fatalf("%s: expected 1 notification, got %d", tc.action, len(list))
		}
		if list[0].Kind != tc.kind {
			t.Errorf("%s: expected kind %s, got %s", tc.action, tc.kind, list[0].Kind)
		}
	}
}

func TestSelfSuppression(t *testing.T) {
	actions := []models.InventoryAction{
		models.InventoryCreated,
		models.InventoryUpdated,
		models.InventoryDeleted,
		models.InventoryStockUpdated,
	}

	for _, action := range actions {
		ch := newFakeChannel(true)
		_, store, _ := newTestOrchestrator(t, ch, Config{
			Actor: func() string { return "user-1" },
		})

		item := models.InventoryItem{ID: "i1", Name: "Widget", Stock: 50, MinStock: 10}
		ch.emit(t, eventInventoryUpdate, models.InventoryEvent{Action: action, Item: item, Actor: "user-1"})
		if n, _ := store.Counts(); n != 0 {
			t.Errorf("%s: own write must not notify, got %d notifications", action, n)
		}

		ch.emit(t, eventInventoryUpdate, models.InventoryEvent{Action: action, Item: item, Actor: "user-2"})
		if n, _ := store.Counts(); n != 1 {
			t.Errorf("%s: foreign write must notify, got %d notifications", action, n)
		}
	}
}

func TestStockThresholdAlerts(t *testing.T) {
	cases := []struct {
		name     string
		stock    int
		minStock int
		kind     models.AlertKind
		severity models.Severity
	}{
		{"zero stock", 0, 10, models.AlertOutOfStock, models.SeverityCritical},
		{"quarter of minimum", 2, 10, models.AlertLowStock, models.SeverityHigh},
		{"below minimum", 5, 10, models.AlertLowStock, models.SeverityMedium},
		{"at minimum", 10, 10, models.AlertLowStock, models.SeverityMedium},
	}

	for _, tc := range cases {
		ch := newFakeChannel(true)
		_, store, _ := newTestOrchestrator(t, ch, Config{})

		ch.emit(t, eventInventoryUpdate, models.InventoryEvent{
			Action: models.InventoryStockUpdated,
			Item:   models.InventoryItem{ID: "i1", Name: "Widget", Stock: tc.stock, MinStock: tc.minStock},
			Actor:  "someone-else",
		})

		alerts := store.Alerts(notify.FilterAll, notify.SortNewestFirst)
		if len(alerts) != 1 {
			t.Fatalf("%s: expected 1 alert, got %d", tc.name, len(alerts))
		}
		if alerts[0].Kind != tc.kind {
			t.Errorf("%s: expected kind %s, got %s", tc.name, tc.kind, alerts[0].Kind)
		}
		if alerts[0].Severity != tc.severity {
			t.Errorf("%s: expected severity %s, got %s", tc.name, tc.severity, alerts[0].Severity)
		}
	}
}

func TestStockAboveMinimumNoAlert(t *testing.T) {
	ch := newFakeChannel(true)
	_, store, _ := newTestOrchestrator(t, ch, Config{})

	ch.emit(t, eventInventoryUpdate, models.InventoryEvent{
		Action: models.InventoryStockUpdated,
		Item:   models.InventoryItem{ID: "i1", Name: "Widget", Stock: 11, MinStock: 10},
		Actor:  "someone-else",
	})

	if _, alerts := store.Counts(); alerts != 0 {
		t.Errorf("expected no alert above minimum, got %d", alerts)
	}
}

func TestStockAlertDerivedEvenForOwnWrite(t *testing.T) {
	ch := newFakeChannel(true)
	_, store, _ := newTestOrchestrator(t, ch, Config{
		Actor: func() string { return "user-1" },
	})

	ch.emit(t, eventInventoryUpdate, models.InventoryEvent{
		Action: models.InventoryStockUpdated,
		Item:   models.InventoryItem{ID: "i1", Name: "Widget", Stock: 0, MinStock: 10},
		Actor:  "user-1",
	})

	notifications, alerts := store.Counts()
	if notifications != 0 {
		t.Errorf("own write must not notify, got %d", notifications)
	}
	if alerts != 1 {
		t.Errorf("stock condition holds regardless of actor, expected 1 alert, got %d", alerts)
	}
}

func TestCriticalAlertSynthesizesPersistentNotification(t *testing.T) {
	ch := newFakeChannel(true)
	_, store, _ := newTestOrchestrator(t, ch, Config{})

	ch.emit(t, eventAlertsNew, models.AlertEvent{
		Kind:     "out_of_stock",
		Severity: "critical",
		Title:    "Out of stock",
		Subject:  models.AlertSubject{ItemID: "i1"},
	})

	notifications := store.Notifications()
	if len(notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifications))
	}
	if notifications[0].TTL != 0 {
		t.Errorf("critical alert notification must be persistent, ttl %v", notifications[0].TTL)
	}
	if notifications[0].Kind != models.NotificationError {
		t.Errorf("expected error kind, got %s", notifications[0].Kind)
	}
	if _, alerts := store.Counts(); alerts != 1 {
		t.Errorf("expected 1 alert, got %d", alerts)
	}
}

func TestNonCriticalAlertNoNotification(t *testing.T) {
	ch := newFakeChannel(true)
	_, store, _ := newTestOrchestrator(t, ch, Config{})

	ch.emit(t, eventAlertsNew, models.AlertEvent{
		Kind:     "low_stock",
		Severity: "high",
		Subject:  models.AlertSubject{ItemID: "i1"},
	})

	notifications, alerts := store.Counts()
	if notifications != 0 {
		t.Errorf("expected no notification for non-critical alert, got %d", notifications)
	}
	if alerts != 1 {
		t.Errorf("expected 1 alert, got %d", alerts)
	}
}

func TestAlertUpdateMirrorsAcknowledgement(t *testing.T) {
	ch := newFakeChannel(true)
	_, store, _ := newTestOrchestrator(t, ch, Config{})

	ch.emit(t, eventAlertsNew, models.AlertEvent{
		Kind:     "low_stock",
		Severity: "medium",
		Subject:  models.AlertSubject{ItemID: "i1"},
	})
	ch.emit(t, eventAlertsUpdate, models.AlertEvent{
		Kind:         "low_stock",
		Subject:      models.AlertSubject{ItemID: "i1"},
		Acknowledged: true,
	})

	if un := store.Alerts(notify.FilterUnacknowledged, notify.SortNewestFirst); len(un) != 0 {
		t.Errorf("expected alert acknowledged from push update, %d unacknowledged", len(un))
	}
}

func TestSystemNotificationStored(t *testing.T) {
	ch := newFakeChannel(true)
	_, store, _ := newTestOrchestrator(t, ch, Config{})

	ch.emit(t, eventSystemNotification, models.SystemNotificationEvent{
		Kind:    "warning",
		Title:   "Maintenance tonight",
		Message: "Expect a short outage",
	})

	list := store.Notifications()
	if len(list) != 1 || list[0].Kind != models.NotificationWarning {
		t.Errorf("unexpected notifications: %+v", list)
	}
}

func TestCheckAlertsConnectedUsesChannel(t *testing.T) {
	ch := newFakeChannel(true)
	o, _, source := newTestOrchestrator(t, ch, Config{})

	if err := o.CheckAlerts(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.sent) != 1 || ch.sent[0] != verbCheckAlerts {
		t.Errorf("expected %s verb on the channel, got %v", verbCheckAlerts, ch.sent)
	}
	if source.callCount() != 0 {
		t.Error("REST source must not be hit while connected")
	}
}

func TestCheckAlertsDisconnectedFallsBackToREST(t *testing.T) {
	ch := newFakeChannel(false)
	o, store, source := newTestOrchestrator(t, ch, Config{})
	source.alerts = []models.AlertEvent{
		{Kind: "low_stock", Severity: "medium", Subject: models.AlertSubject{ItemID: "i1"}},
		{Kind: "out_of_stock", Severity: "high", Subject: models.AlertSubject{ItemID: "i2"}},
	}

	if err := o.CheckAlerts(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.callCount() != 1 {
		t.Errorf("expected 1 REST fetch, got %d", source.callCount())
	}
	if _, alerts := store.Counts(); alerts != 2 {
		t.Errorf("expected 2 ingested alerts, got %d", alerts)
	}
	if len(ch.sent) != 0 {
		t.Errorf("no channel verb expected while disconnected, got %v", ch.sent)
	}
}

func TestDegradedNoticesRateLimited(t *testing.T) {
	ch := newFakeChannel(false)
	_, store, _ := newTestOrchestrator(t, ch, Config{})

	for i := 0; i < 6; i++ {
		ch.emit(t, realtime.EventConnectError, "dial tcp: refused")
	}

	notifications := store.Notifications()
	if len(notifications) != 3 {
		t.Errorf("expected flapping link capped at 3 notices, got %d", len(notifications))
	}
	for _, n := range notifications {
		if n.Kind != models.NotificationWarning {
			t.Errorf("expected warning kind, got %s", n.Kind)
		}
	}
}

func TestPeriodicRecheckWhileDisconnected(t *testing.T) {
	ch := newFakeChannel(false)
	_, _, source := newTestOrchestrator(t, ch, Config{
		RecheckConnected:    time.Hour,
		RecheckDisconnected: 20 * time.Millisecond,
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if source.callCount() >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("expected repeated periodic re-checks, got %d", source.callCount())
}

func TestCloseReleasesHandlersAndTimers(t *testing.T) {
	ch := newFakeChannel(false)
	o, store, source := newTestOrchestrator(t, ch, Config{
		RecheckDisconnected: 20 * time.Millisecond,
	})

	if ch.handlerCount() == 0 {
		t.Fatal("expected handlers registered after Start")
	}
	o.Close()
	if ch.handlerCount() != 0 {
		t.Errorf("expected all handlers removed, %d remain", ch.handlerCount())
	}

	calls := source.callCount()
	time.Sleep(60 * time.Millisecond)
	if source.callCount() != calls {
		t.Error("no re-check may fire after Close")
	}

	ch.emit(t, eventInventoryUpdate, models.InventoryEvent{
		Action: models.InventoryCreated,
		Item:   models.InventoryItem{ID: "i1", Name: "Widget"},
		Actor:  "someone-else",
	})
	if n, _ := store.Counts(); n != 0 {
		t.Errorf("expected no store mutation after Close, got %d notifications", n)
	}
}
