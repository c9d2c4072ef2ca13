// Package metrics holds the Prometheus instruments for the pipeline and the
// query API. Every method is safe to call on a nil *Metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "disclosure"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ArchivesFetched   prometheus.Counter
	ArchivesFailed    prometheus.Counter
	RowsExtracted     prometheus.Counter
	RowsDropped       prometheus.Counter
	UpstreamRetries   prometheus.Counter
	UpstreamRequests  *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	StageStatus       *prometheus.CounterVec
	APIRequests       *prometheus.CounterVec
	APIRequestLatency *prometheus.HistogramVec
	SnapshotRows      prometheus.Gauge
	SnapshotLoadedAt  prometheus.Gauge
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ArchivesFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_fetched_total",
			Help:      "Archives downloaded and extracted successfully.",
		}),
		ArchivesFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_failed_total",
			Help:      "Archives skipped after a download or parse failure.",
		}),
		RowsExtracted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_extracted_total",
			Help:      "Sanitized rows kept from all archives.",
		}),
		RowsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "Rows dropped as malformed lines or degenerate zero rows.",
		}),
		UpstreamRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Retried upstream HTTP requests.",
		}),
		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream HTTP requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"stage"}),
		StageStatus: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Pipeline stage outcomes by status.",
		}, []string{"stage", "status"}),
		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Query API requests by route and status code.",
		}, []string{"route", "code"}),
		APIRequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Query API latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		SnapshotRows: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_entities",
			Help:      "Aggregated entities in the served snapshot.",
		}),
		SnapshotLoadedAt: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_loaded_timestamp_seconds",
			Help:      "Unix time of the last successful snapshot load.",
		}),
	}
}

// ObserveArchive records one archive outcome and its row counts.
func (m *Metrics) ObserveArchive(ok bool, kept, dropped int) {
	if m == nil {
		return
	}
	if !ok {
		m.ArchivesFailed.Inc()
		return
	}
	m.ArchivesFetched.Inc()
	m.RowsExtracted.Add(float64(kept))
	m.RowsDropped.Add(float64(dropped))
}

// IncUpstreamRetry counts one retried upstream request.
func (m *Metrics) IncUpstreamRetry() {
	if m == nil {
		return
	}
	m.UpstreamRetries.Inc()
}

// ObserveUpstream records an upstream request outcome.
func (m *Metrics) ObserveUpstream(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.UpstreamRequests.WithLabelValues(kind, outcome).Inc()
}

// ObserveStage records a stage's duration and final status.
func (m *Metrics) ObserveStage(stage, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(took.Seconds())
	m.StageStatus.WithLabelValues(stage, status).Inc()
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(route string, code int, took time.Duration) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.APIRequestLatency.WithLabelValues(route).Observe(took.Seconds())
}

// SetSnapshot records the size and load time of a newly served snapshot.
func (m *Metrics) SetSnapshot(entities int, loadedAt time.Time) {
	if m == nil {
		return
	}
	m.SnapshotRows.Set(float64(entities))
	m.SnapshotLoadedAt.Set(float64(loadedAt.Unix()))
}
