package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	RecordsCaptured *prometheus.CounterVec
	PersistFailures prometheus.Counter
	QueueDepth      prometheus.Gauge
	RecordsDeleted  prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		RecordsCaptured: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "changetrail_records_captured_total",
			Help: "Total change records built by the capture engine, by action",
		}, []string{"action"}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "changetrail_persist_failures_total",
			Help: "Total terminal persistence failures after retries were exhausted",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "changetrail_deferred_queue_depth",
			Help: "Records currently waiting in the in-process deferred queue",
		}),
		RecordsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "changetrail_records_deleted_total",
			Help: "Total change records removed by retention sweeps",
		}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "changetrail_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}
