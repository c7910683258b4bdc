// Package metrics provides Prometheus metrics for the Shelfline sync client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "shelfline"
)

// Request executor metrics
var (
	// APIRequestsTotal counts outbound API calls by method and result.
	// Result is "success" or a taxonomy error code.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total outbound API requests",
		},
		[]string{"method", "result"},
	)

	// APIRequestDuration tracks outbound call latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Outbound API request latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	// APIRetriesTotal counts transport-level retry attempts.
	APIRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "retries_total",
			Help:      "Total transport-level retry attempts",
		},
	)
)

// Push channel metrics
var (
	// PushEventsTotal counts events received on the push channel by name.
	PushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "events_total",
			Help:      "Total push channel events received",
		},
		[]string{"event"},
	)

	// PushReconnectsTotal counts reconnect attempts.
	PushReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "reconnects_total",
			Help:      "Total push channel reconnect attempts",
		},
	)

	// PushConnected indicates whether the push channel is connected (0/1).
	PushConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "connected",
			Help:      "Push channel connection state (1 = connected)",
		},
	)
)

// Store metrics
var (
	// NotificationsActive tracks notifications currently in the store.
	NotificationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "notifications_active",
			Help:      "Notifications currently held in the store",
		},
	)

	// AlertsActive tracks alerts currently in the store.
	AlertsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "alerts_active",
			Help:      "Alerts currently held in the store",
		},
	)

	// AlertsDeduplicated counts alert additions dropped by deduplication.
	AlertsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "alerts_deduplicated_total",
			Help:      "Alert additions dropped because the (subject, kind) key already existed",
		},
	)
)

// Orchestrator metrics
var (
	// AlertChecksTotal counts alert re-checks by trigger ("periodic", "manual").
	AlertChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "alert_checks_total",
			Help:      "Total alert re-checks issued",
		},
		[]string{"trigger"},
	)

	// SelfSuppressedTotal counts inventory events suppressed because the
	// actor was the current session user.
	SelfSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "self_suppressed_total",
			Help:      "Inventory events suppressed by the self-suppression rule",
		},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
