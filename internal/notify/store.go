// Package notify owns the in-memory notification and alert state surfaced to
// the rest of the application. Notifications auto-expire by TTL; alerts
// persist until acknowledged or dismissed and are deduplicated by
// (subject, kind).
package notify

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shelfline/shelfline/internal/metrics"
	"github.com/shelfline/shelfline/internal/models"
)

// Filter selects which alerts a query returns.
type Filter int

const (
	FilterAll Filter = iota
	FilterUnacknowledged
	FilterCritical
)

// Sort selects the order of an alert query.
type Sort int

const (
	SortNewestFirst Sort = iota
	SortSeverity
)

// NotificationSpec describes a notification to add. A zero TTL applies the
// default (5s); Persistent pins the notification until explicitly removed.
type NotificationSpec struct {
	Kind       models.NotificationKind
	Title      string
	Message    string
	TTL        time.Duration
	Persistent bool
	Actions    []models.NotificationAction
}

// AlertSpec describes an alert to add.
type AlertSpec struct {
	Kind           models.AlertKind
	Severity       models.Severity
	Title          string
	Message        string
	Subject        models.AlertSubject
	NonDismissible bool
}

// Store is the process-wide notification/alert store. All mutations are
// synchronous: subscribers observe the new state before the mutating call
// returns. The only scheduled work is TTL-driven auto-removal.
type Store struct {
	mu            sync.Mutex
	notifications []models.Notification
	alerts        []models.Alert
	alertByKey    map[string]int // dedup key -> index into alerts
	timers        map[string]*time.Timer
	subs          map[int]func()
	nextSub       int
	closed        bool
	verbose       bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		alertByKey: make(map[string]int),
		timers:     make(map[string]*time.Timer),
		subs:       make(map[int]func()),
	}
}

// SetVerbose enables verbose logging.
func (s *Store) SetVerbose(v bool) {
	s.verbose = v
}

// Close cancels all pending TTL timers and detaches subscribers. No timer
// fires against a closed store.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.subs = make(map[int]func())
}

// OnChange registers a subscriber invoked synchronously after every
// mutation. Returns an id for RemoveOnChange.
func (s *Store) OnChange(fn func()) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	s.subs[s.nextSub] = fn
	return s.nextSub
}

// RemoveOnChange deregisters a subscriber.
func (s *Store) RemoveOnChange(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// AddNotification assigns identity and creation time, applies the default
// TTL when unset, inserts at the tail, and arms the auto-removal timer.
// Returns the assigned id.
func (s *Store) AddNotification(spec NotificationSpec) string {
	ttl := spec.TTL
	if spec.Persistent {
		ttl = 0
	} else if ttl <= 0 {
		ttl = models.DefaultNotificationTTL
	}

	n := models.Notification{
		ID:        models.NewNotificationID(),
		Kind:      spec.Kind,
		Title:     spec.Title,
		Message:   spec.Message,
		TTL:       ttl,
		CreatedAt: time.Now(),
		Actions:   spec.Actions,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ""
	}
	s.notifications = append(s.notifications, n)
	if ttl > 0 {
		id := n.ID
		s.timers[id] = time.AfterFunc(ttl, func() {
			s.RemoveNotification(id)
		})
	}
	metrics.NotificationsActive.Set(float64(len(s.notifications)))
	s.logf("notification added: %s (%s, ttl=%v)", n.ID, n.Kind, ttl)
	subs := s.subscribersLocked()
	s.mu.Unlock()

	fanOut(subs)
	return n.ID
}

// RemoveNotification deletes a notification by id and cancels its timer.
// Removing an absent id is a no-op.
func (s *Store) RemoveNotification(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}

	removed := false
	for i, n := range s.notifications {
		if n.ID == id {
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		s.mu.Unlock()
		return
	}
	metrics.NotificationsActive.Set(float64(len(s.notifications)))
	subs := s.subscribersLocked()
	s.mu.Unlock()

	fanOut(subs)
}

// Notifications returns the ordered notification list.
func (s *Store) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// AddAlert appends an alert unless one with the same (subject, kind) key
// already exists; the duplicate attempt is a no-op retaining the original.
// Returns the id of the stored alert (existing or new).
func (s *Store) AddAlert(spec AlertSpec) string {
	a := models.Alert{
		ID:          uuid.New().String(),
		Kind:        spec.Kind,
		Severity:    spec.Severity,
		Title:       spec.Title,
		Message:     spec.Message,
		Subject:     spec.Subject,
		Dismissible: !spec.NonDismissible,
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ""
	}
	if i, ok := s.alertByKey[a.Key()]; ok {
		existing := s.alerts[i].ID
		metrics.AlertsDeduplicated.Inc()
		s.logf("alert deduplicated: %s", a.Key())
		s.mu.Unlock()
		return existing
	}

	s.alertByKey[a.Key()] = len(s.alerts)
	s.alerts = append(s.alerts, a)
	metrics.AlertsActive.Set(float64(len(s.alerts)))
	s.logf("alert added: %s (%s/%s)", a.ID, a.Kind, a.Severity)
	subs := s.subscribersLocked()
	s.mu.Unlock()

	fanOut(subs)
	return a.ID
}

// AcknowledgeAlert sets the acknowledged flag; the alert is retained.
func (s *Store) AcknowledgeAlert(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := false
	for i := range s.alerts {
		if s.alerts[i].ID == id && !s.alerts[i].Acknowledged {
			s.alerts[i].Acknowledged = true
			changed = true
			break
		}
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	fanOut(subs)
}

// SetAcknowledgedByKey mirrors server-side acknowledgement state onto the
// alert with the given (subject identity, kind) key, if present.
func (s *Store) SetAcknowledgedByKey(subjectID string, kind models.AlertKind, ack bool) bool {
	key := subjectID + "|" + string(kind)

	s.mu.Lock()
	i, ok := s.alertByKey[key]
	if !ok || s.closed {
		s.mu.Unlock()
		return false
	}
	if s.alerts[i].Acknowledged == ack {
		s.mu.Unlock()
		return true
	}
	s.alerts[i].Acknowledged = ack
	subs := s.subscribersLocked()
	s.mu.Unlock()

	fanOut(subs)
	return true
}

// RemoveAlert deletes an alert by id.
func (s *Store) RemoveAlert(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	removed := false
	for i, a := range s.alerts {
		if a.ID == id {
			delete(s.alertByKey, a.Key())
			s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		s.mu.Unlock()
		return
	}
	s.reindexLocked()
	metrics.AlertsActive.Set(float64(len(s.alerts)))
	subs := s.subscribersLocked()
	s.mu.Unlock()

	fanOut(subs)
}

// ClearAlerts deletes all alerts.
func (s *Store) ClearAlerts() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.alerts = nil
	s.alertByKey = make(map[string]int)
	metrics.AlertsActive.Set(0)
	subs := s.subscribersLocked()
	s.mu.Unlock()

	fanOut(subs)
}

// Alerts returns alerts matching the filter in the requested order.
func (s *Store) Alerts(filter Filter, order Sort) []models.Alert {
	s.mu.Lock()
	selected := make([]models.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		switch filter {
		case FilterUnacknowledged:
			if a.Acknowledged {
				continue
			}
		case FilterCritical:
			if a.Severity != models.SeverityCritical {
				continue
			}
		}
		selected = append(selected, a)
	}
	s.mu.Unlock()

	switch order {
	case SortSeverity:
		sort.SliceStable(selected, func(i, j int) bool {
			return selected[i].Severity.Rank() > selected[j].Severity.Rank()
		})
	default: // SortNewestFirst: reverse of insertion order
		for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
			selected[i], selected[j] = selected[j], selected[i]
		}
	}
	return selected
}

// Counts returns the current notification and alert counts.
func (s *Store) Counts() (notifications, alerts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications), len(s.alerts)
}

// reindexLocked rebuilds the dedup index after a removal.
func (s *Store) reindexLocked() {
	s.alertByKey = make(map[string]int, len(s.alerts))
	for i, a := range s.alerts {
		s.alertByKey[a.Key()] = i
	}
}

// subscribersLocked snapshots the subscriber list. Caller holds s.mu; the
// snapshot is invoked after unlock so subscribers may read the store.
func (s *Store) subscribersLocked() []func() {
	out := make([]func(), 0, len(s.subs))
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}

func fanOut(subs []func()) {
	for _, fn := range subs {
		fn()
	}
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.verbose {
		log.Printf("[notify] "+format, args...)
	}
}
