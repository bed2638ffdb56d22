// Package metrics exposes control-loop and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "heater"

// Metrics implements heater.Metrics on Prometheus collectors.
type Metrics struct {
	temperature    prometheus.Gauge
	power          prometheus.Gauge
	heaterOn       prometheus.Gauge
	waterPresent   prometheus.Gauge
	faultsTotal    *prometheus.CounterVec
	cyclesTotal    prometheus.Counter
	droppedTicks   prometheus.Counter
	watchdogStalls prometheus.Counter

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. If reg is also a
// Gatherer, Handler serves it; otherwise the default gatherer is used.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last tank temperature reading",
		}),
		power: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_percent",
			Help:      "Clamped regulator output",
		}),
		heaterOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_on_binary",
			Help:      "Last state written to the heater output",
		}),
		waterPresent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "water_present_binary",
			Help:      "Filtered state of the water interlock",
		}),
		faultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Faults observed by the control loop, by component",
		}, []string{"kind"}),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duty_cycles_total",
			Help:      "Completed ON/OFF actuation windows",
		}),
		droppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_fast_ticks_total",
			Help:      "Fast ticks not served while a slow tick was actuating",
		}),
		watchdogStalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_stalls_total",
			Help:      "Times the control loop made no progress within the watchdog timeout",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		gatherer: prometheus.DefaultGatherer,
	}

	reg.MustRegister(
		m.temperature,
		m.power,
		m.heaterOn,
		m.waterPresent,
		m.faultsTotal,
		m.cyclesTotal,
		m.droppedTicks,
		m.watchdogStalls,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

func (m *Metrics) ObserveReading(temp, power float64) {
	m.temperature.Set(temp)
	m.power.Set(power)
}

func (m *Metrics) SetHeaterOn(on bool)          { m.heaterOn.Set(binary(on)) }
func (m *Metrics) SetWaterPresent(present bool) { m.waterPresent.Set(binary(present)) }
func (m *Metrics) IncFault(kind string)         { m.faultsTotal.WithLabelValues(kind).Inc() }
func (m *Metrics) IncCycle()                    { m.cyclesTotal.Inc() }
func (m *Metrics) AddDroppedTicks(n int)        { m.droppedTicks.Add(float64(n)) }
func (m *Metrics) IncWatchdogStall()            { m.watchdogStalls.Inc() }

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument wraps h, counting requests and timing them under route.
func (m *Metrics) Instrument(route string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h.ServeHTTP(rec, r)
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func binary(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
