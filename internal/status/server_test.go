package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shelfline/shelfline/internal/models"
	"github.com/shelfline/shelfline/internal/notify"
)

type stubReporter struct {
	status models.ConnectionStatus
}

func (s stubReporter) ConnectionStatus() models.ConnectionStatus { return s.status }

func TestHealthz(t *testing.T) {
	store := notify.NewStore()
	defer store.Close()
	s := New("127.0.0.1:0", stubReporter{}, store)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestStatusPayload(t *testing.T) {
	store := notify.NewStore()
	defer store.Close()
	store.AddNotification(notify.NotificationSpec{Title: "x", Persistent: true})
	store.AddAlert(notify.AlertSpec{Kind: models.AlertSystem, Severity: models.SeverityLow})

	s := New("127.0.0.1:0", stubReporter{status: models.ConnectionStatus{
		Connected:            true,
		MaxReconnectAttempts: 5,
	}}, store)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Connection    models.ConnectionStatus `json:"connection"`
		Notifications int                     `json:"notifications"`
		Alerts        int                     `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Connection.Connected {
		t.Error("expected connected status")
	}
	if payload.Notifications != 1 || payload.Alerts != 1 {
		t.Errorf("unexpected counts: %+v", payload)
	}
}

func TestMetricsExposed(t *testing.T) {
	store := notify.NewStore()
	defer store.Close()
	s := New("127.0.0.1:0", stubReporter{}, store)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from metrics handler, got %d", rec.Code)
	}
}
