package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m io_prometheus_client.Metric
	if err := (<-ch).Write(&m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestRecorderCountsConnectionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.RecordConnectionAccepted()
	r.RecordConnectionAccepted()
	r.RecordConnectionClosed()
	r.RecordConnectionForceClosed()
	r.SetActiveConnections(5)

	if got := value(t, r.connectionsAccepted); got != 2 {
		t.Fatalf("connectionsAccepted = %v, want 2", got)
	}
	if got := value(t, r.connectionsClosed); got != 1 {
		t.Fatalf("connectionsClosed = %v, want 1", got)
	}
	if got := value(t, r.connectionsForceClosed); got != 1 {
		t.Fatalf("connectionsForceClosed = %v, want 1", got)
	}
	if got := value(t, r.activeConnections); got != 5 {
		t.Fatalf("activeConnections = %v, want 5", got)
	}
}

func TestNewHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.RecordConnectionAccepted()

	srv := httptest.NewServer(NewHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if !strings.Contains(string(raw), "vaultd_connections_accepted_total") {
		t.Fatalf("response body missing vaultd_connections_accepted_total metric:\n%s", raw)
	}
}
