package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/convoflow/convosync/internal/forward"
	"github.com/convoflow/convosync/internal/syncer"
)

// Metrics owns the Prometheus registry behind GET /metrics. Sync runs
// feed the counters; the forward client's internal counters are mirrored
// into gauges whenever a snapshot is observed.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal       prometheus.Counter
	records         *prometheus.CounterVec
	lastRunUnix     prometheus.Gauge
	lastRunDuration prometheus.Gauge
	lastRunFailed   prometheus.Gauge

	forwardRequests *prometheus.GaugeVec
	forwardRetries  prometheus.Gauge
	forwardOpens    prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		runsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "convosync_runs_total",
			Help: "Completed sync runs, including dry runs.",
		}),
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "convosync_records_total",
			Help: "Records handled per run outcome.",
		}, []string{"outcome"}),
		lastRunUnix: factory.NewGauge(prometheus.GaugeOpts{
			Name: "convosync_last_run_timestamp_seconds",
			Help: "Unix time the most recent run started.",
		}),
		lastRunDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "convosync_last_run_duration_seconds",
			Help: "Wall-clock duration of the most recent run.",
		}),
		lastRunFailed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "convosync_last_run_failed_records",
			Help: "Failed records in the most recent run.",
		}),
		forwardRequests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "convosync_forward_requests",
			Help: "Poke client request counters by result.",
		}, []string{"result"}),
		forwardRetries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "convosync_forward_retries_total",
			Help: "Poke client retry attempts.",
		}),
		forwardOpens: factory.NewGauge(prometheus.GaugeOpts{
			Name: "convosync_forward_circuit_breaker_opens",
			Help: "Requests rejected by the Poke client circuit breaker.",
		}),
	}
}

func (m *Metrics) ObserveRun(sum syncer.RunSummary) {
	m.runsTotal.Inc()
	m.records.WithLabelValues("created").Add(float64(sum.Created))
	m.records.WithLabelValues("updated").Add(float64(sum.Updated))
	m.records.WithLabelValues("failed").Add(float64(sum.Failed))
	m.records.WithLabelValues("skipped").Add(float64(sum.Skipped))
	m.lastRunUnix.Set(float64(sum.StartedAt.Unix()))
	m.lastRunDuration.Set(sum.Duration.Seconds())
	m.lastRunFailed.Set(float64(sum.Failed))
}

func (m *Metrics) ObserveForward(snap forward.MetricsSnapshot) {
	m.forwardRequests.WithLabelValues("total").Set(float64(snap.RequestsTotal))
	m.forwardRequests.WithLabelValues("success").Set(float64(snap.RequestsSuccess))
	m.forwardRequests.WithLabelValues("failed").Set(float64(snap.RequestsFailed))
	m.forwardRetries.Set(float64(snap.RetriesTotal))
	m.forwardOpens.Set(float64(snap.CircuitBreakerOpens))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
