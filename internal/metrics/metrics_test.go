package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case m.Gauge != nil:
		return m.GetGauge().GetValue()
	case m.Counter != nil:
		return m.GetCounter().GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestControlMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveReading(42.5, 63)
	m.SetHeaterOn(true)
	m.SetWaterPresent(false)
	m.IncFault("sensor")
	m.IncFault("sensor")
	m.IncFault("actuator")
	m.IncCycle()
	m.AddDroppedTicks(4)
	m.IncWatchdogStall()

	checks := []struct {
		name string
		c    prometheus.Metric
		want float64
	}{
		{"temperature", m.temperature, 42.5},
		{"power", m.power, 63},
		{"heater_on", m.heaterOn, 1},
		{"water_present", m.waterPresent, 0},
		{"faults sensor", m.faultsTotal.WithLabelValues("sensor"), 2},
		{"faults actuator", m.faultsTotal.WithLabelValues("actuator"), 1},
		{"cycles", m.cyclesTotal, 1},
		{"dropped", m.droppedTicks, 4},
		{"stalls", m.watchdogStalls, 1},
	}
	for _, c := range checks {
		if got := value(t, c.c); got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestInstrumentAndHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())

	h := m.Instrument("/heater/target", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/heater/target", nil))

	if got := value(t, m.httpRequestsTotal.WithLabelValues("/heater/target", "400")); got != 1 {
		t.Errorf("requests: got %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "heater_http_requests_total") {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}
