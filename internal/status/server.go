// Package status serves the daemon's local observability endpoint: health,
// connection/store status, and Prometheus metrics.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shelfline/shelfline/internal/models"
	"github.com/shelfline/shelfline/internal/notify"
	"github.com/shelfline/shelfline/pkg/config"
)

// Reporter exposes the orchestrator state the endpoint publishes.
type Reporter interface {
	ConnectionStatus() models.ConnectionStatus
}

// Server is the local status listener. It binds to a loopback address and
// is not meant to be exposed beyond the host.
type Server struct {
	addr     string
	reporter Reporter
	store    *notify.Store
	http     *http.Server
}

// New creates a status server on addr.
func New(addr string, reporter Reporter, store *notify.Store) *Server {
	s := &Server{
		addr:     addr,
		reporter: reporter,
		store:    store,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	log.Printf("status server listening on %s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	}()

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	notifications, alerts := s.store.Counts()

	payload := struct {
		Version       string                  `json:"version"`
		Connection    models.ConnectionStatus `json:"connection"`
		Notifications int                     `json:"notifications"`
		Alerts        int                     `json:"alerts"`
	}{
		Version:       config.Version,
		Connection:    s.reporter.ConnectionStatus(),
		Notifications: notifications,
		Alerts:        alerts,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("status encode: %v", err)
	}
}
