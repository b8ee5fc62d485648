// Package metrics holds the Prometheus metrics and health status of the
// VWAP engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the service, registered on a
// private registry so tests can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	BarsTotal       *prometheus.CounterVec // labels: instrument
	BarsRejected    *prometheus.CounterVec // labels: instrument, reason
	AnchorResets    *prometheus.CounterVec // labels: instrument
	LineBreaks      *prometheus.CounterVec // labels: instrument
	ProcessDur      prometheus.Histogram
	WindowSamples   prometheus.Histogram
	ReplaysTotal    *prometheus.CounterVec // labels: reason=cold|settings|snapshot
	ReplayDur       prometheus.Histogram
	SnapshotsTotal  *prometheus.CounterVec // labels: store
	StoreErrors     *prometheus.CounterVec // labels: store, op
	WSClients       prometheus.Gauge
	BufferedWrites  prometheus.Counter
	CircuitState    prometheus.Gauge // 0=closed, 1=open, 2=half-open
	CircuitTrips    prometheus.Counter
	SettingsApplied *prometheus.CounterVec // labels: source=api|redis|file
}

// New creates and registers all metrics.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vwap_bars_processed_total",
			Help: "Bars processed by the band engine",
		}, []string{"instrument"}),
		BarsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vwap_bars_rejected_total",
			Help: "Bars rejected before or by the band engine",
		}, []string{"instrument", "reason"}),
		AnchorResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vwap_anchor_resets_total",
			Help: "Bars that started a new anchor period",
		}, []string{"instrument"}),
		LineBreaks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vwap_line_breaks_total",
			Help: "Line breaks requested from renderers",
		}, []string{"instrument"}),
		ProcessDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vwap_process_duration_seconds",
			Help:    "Band engine latency per bar",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		WindowSamples: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vwap_window_samples",
			Help:    "Prior deviations summed per bar",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200, 300, 500},
		}),
		ReplaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vwap_replays_total",
			Help: "Full recomputations of an instrument",
		}, []string{"reason"}),
		ReplayDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vwap_replay_duration_seconds",
			Help:    "Duration of a full recomputation",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vwap_snapshots_total",
			Help: "Engine snapshots saved",
		}, []string{"store"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vwap_store_errors_total",
			Help: "Failed store operations",
		}, []string{"store", "op"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vwap_ws_clients",
			Help: "Connected WebSocket renderers",
		}),
		BufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vwap_redis_buffered_writes_total",
			Help: "Redis writes buffered while Redis was unavailable",
		}),
		CircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vwap_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state: 0=closed, 1=open, 2=half-open",
		}),
		CircuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vwap_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker opened",
		}),
		SettingsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vwap_settings_applied_total",
			Help: "Settings changes applied",
		}, []string{"source"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.BarsTotal, m.BarsRejected, m.AnchorResets, m.LineBreaks,
		m.ProcessDur, m.WindowSamples, m.ReplaysTotal, m.ReplayDur,
		m.SnapshotsTotal, m.StoreErrors, m.WSClients,
		m.BufferedWrites, m.CircuitState, m.CircuitTrips, m.SettingsApplied,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
