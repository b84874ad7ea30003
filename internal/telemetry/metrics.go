package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — Prometheus метрики оркестратора.
//
// Nil-safe: методы на nil-получателе — no-op, поэтому компоненты
// не обязаны проверять, подключены ли метрики.
type Metrics struct {
	activeRuns     prometheus.Gauge
	runsTotal      *prometheus.CounterVec
	recordsSynced  prometheus.Counter
	runDuration    prometheus.Histogram
	droppedClients prometheus.Counter
}

// NewMetrics создаёт и регистрирует метрики в registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conveyor_active_runs",
			Help: "Number of currently active runs.",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_runs_total",
			Help: "Total number of finished runs by terminal status.",
		}, []string{"status"}),
		recordsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_records_synced_total",
			Help: "Total number of records emitted by extractors.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conveyor_run_duration_seconds",
			Help:    "Run duration from start to terminal status.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		droppedClients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_stream_clients_dropped_total",
			Help: "Total number of stream subscribers dropped for not keeping up.",
		}),
	}

	reg.MustRegister(
		m.activeRuns,
		m.runsTotal,
		m.recordsSynced,
		m.runDuration,
		m.droppedClients,
	)
	return m
}

// RunStarted учитывает принятый run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished учитывает финализированный run.
func (m *Metrics) RunFinished(status string, duration time.Duration, recordsSynced int64) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
	if recordsSynced > 0 {
		m.recordsSynced.Add(float64(recordsSynced))
	}
}

// ClientDropped учитывает отброшенного stream-подписчика.
func (m *Metrics) ClientDropped() {
	if m == nil {
		return
	}
	m.droppedClients.Inc()
}
