package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	// Prometheus metrics
	planCacheHitRate     prometheus.Gauge
	planCacheKeys        prometheus.Gauge
	planCacheMemoryBytes prometheus.Gauge
	versionsCommitted    *prometheus.CounterVec
	commitFailures       *prometheus.CounterVec
	grpcRequests         *prometheus.CounterVec
	grpcDuration         *prometheus.HistogramVec
	grpcErrors           *prometheus.CounterVec
}

// NewPrometheusExporter creates a new Prometheus exporter registered with the default registry.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return NewPrometheusExporterWith(collector, prometheus.DefaultRegisterer)
}

// NewPrometheusExporterWith creates a new Prometheus exporter registered with reg.
func NewPrometheusExporterWith(collector *Collector, reg prometheus.Registerer) *PrometheusExporter {
	factory := promauto.With(reg)
	return &PrometheusExporter{
		collector: collector,
		planCacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chronicle_plan_cache_hit_rate",
			Help: "Current relationship plan cache hit rate (0.0 to 1.0)",
		}),
		planCacheKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chronicle_plan_cache_keys_current",
			Help: "Current number of entity types in the relationship plan cache",
		}),
		planCacheMemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chronicle_plan_cache_memory_bytes",
			Help: "Current accounted size of the relationship plan cache in bytes",
		}),
		versionsCommitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_versions_committed_total",
				Help: "Total number of version rows persisted",
			},
			[]string{"entity_type"},
		),
		commitFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_commit_failures_total",
				Help: "Total number of rejected or failed commits",
			},
			[]string{"entity_type", "kind"},
		),
		grpcRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_grpc_requests_total",
				Help: "Total number of gRPC requests",
			},
			[]string{"method"},
		),
		grpcDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronicle_grpc_request_duration_seconds",
				Help:    "Duration of gRPC requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"method"},
		),
		grpcErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_grpc_errors_total",
				Help: "Total number of gRPC errors by status code",
			},
			[]string{"method", "code"},
		),
	}
}

// Update updates Gauge metrics from the collector.
// Counters are updated as events happen, so only update gauges here.
// This should be called periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.planCacheHitRate.Set(cacheMetrics.HitRate)
	e.planCacheKeys.Set(float64(cacheMetrics.KeysCurrent))
	e.planCacheMemoryBytes.Set(float64(cacheMetrics.MemoryBytes))
}

// RecordRequest records a request in Prometheus.
func (e *PrometheusExporter) RecordRequest(method string) {
	e.grpcRequests.WithLabelValues(method).Inc()
}

// RecordDuration records a duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(method string, durationSeconds float64) {
	e.grpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordError records an error with its gRPC status code in Prometheus.
func (e *PrometheusExporter) RecordError(method, code string) {
	e.grpcErrors.WithLabelValues(method, code).Inc()
}

// RecordCommit records persisted version rows.
func (e *PrometheusExporter) RecordCommit(entityType string, rows int) {
	e.versionsCommitted.WithLabelValues(entityType).Add(float64(rows))
}

// RecordCommitFailure records a failed commit.
func (e *PrometheusExporter) RecordCommitFailure(entityType, kind string) {
	e.commitFailures.WithLabelValues(entityType, kind).Inc()
}
