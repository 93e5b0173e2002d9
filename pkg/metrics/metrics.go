// Package metrics implements vaultd's Prometheus-backed connection metrics
// (the server.MetricsRecorder C4 accepts) and the chi-routed HTTP endpoint
// that exposes them.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/vaultd/pkg/server"
)

// Recorder implements server.MetricsRecorder with Prometheus collectors
// registered under the vaultd_ prefix, following the teacher's
// per-subsystem metrics shape (e.g. internal/adapter/nlm.Metrics): plain
// Counter/Gauge fields registered once at construction, one struct per
// subsystem rather than a shared global registry of ad-hoc metrics.
type Recorder struct {
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	activeConnections      prometheus.Gauge
}

var _ server.MetricsRecorder = (*Recorder)(nil)

// NewRecorder creates and registers vaultd's connection-lifecycle metrics
// against reg. Panics if registration fails, matching the teacher's own
// NewMetrics constructors (expected to run once, at startup, only).
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultd_connections_accepted_total",
			Help: "Total TCP connections accepted by the listener.",
		}),
		connectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultd_connections_closed_total",
			Help: "Total connections that completed their request/response cycle and closed normally.",
		}),
		connectionsForceClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultd_connections_force_closed_total",
			Help: "Total connections force-closed after the graceful shutdown timeout elapsed.",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vaultd_active_connections",
			Help: "Current number of connections being served.",
		}),
	}
	reg.MustRegister(r.connectionsAccepted, r.connectionsClosed, r.connectionsForceClosed, r.activeConnections)
	return r
}

// RecordConnectionAccepted implements server.MetricsRecorder.
func (r *Recorder) RecordConnectionAccepted() { r.connectionsAccepted.Inc() }

// RecordConnectionClosed implements server.MetricsRecorder.
func (r *Recorder) RecordConnectionClosed() { r.connectionsClosed.Inc() }

// RecordConnectionForceClosed implements server.MetricsRecorder.
func (r *Recorder) RecordConnectionForceClosed() { r.connectionsForceClosed.Inc() }

// SetActiveConnections implements server.MetricsRecorder.
func (r *Recorder) SetActiveConnections(count int32) { r.activeConnections.Set(float64(count)) }

// NewHandler returns the chi-routed HTTP handler exposing reg's collected
// metrics at /metrics, trimmed from the teacher's pkg/api/router.go
// middleware stack (request id, real ip, recoverer, timeout) down to what a
// metrics-only endpoint needs.
func NewHandler(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}
