package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collector Prometheus metrics.
type Metrics struct {
	EventsReceived        *prometheus.CounterVec
	EventsDropped         *prometheus.CounterVec
	Flushes               *prometheus.CounterVec
	FlushBatchSize        prometheus.Histogram
	PrimaryBatches        *prometheus.CounterVec
	PrimaryRecordFailures prometheus.Counter
	RetriesScheduled      prometheus.Counter
	FallbackMessages      *prometheus.CounterVec
	RemoteAvailable       *prometheus.GaugeVec
	HTTPRequests          *prometheus.CounterVec
}

// NewMetrics creates and registers all collector metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inlet_collector_events_received_total",
			Help: "Payloads offered to the sink, by outcome.",
		}, []string{"outcome"}),

		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inlet_collector_events_dropped_total",
			Help: "Payloads dropped for good, by reason.",
		}, []string{"reason"}),

		Flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inlet_collector_flushes_total",
			Help: "Buffer flushes, by trigger.",
		}, []string{"trigger"}),

		FlushBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "inlet_collector_flush_batch_size",
			Help:    "Events per flushed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),

		PrimaryBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inlet_collector_primary_batches_total",
			Help: "PutRecords calls, by result.",
		}, []string{"result"}),

		PrimaryRecordFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "inlet_collector_primary_record_failures_total",
			Help: "Records rejected inside otherwise successful PutRecords calls.",
		}),

		RetriesScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "inlet_collector_retries_scheduled_total",
			Help: "In-memory retry batches scheduled after primary failures.",
		}),

		FallbackMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inlet_collector_fallback_messages_total",
			Help: "Messages offered to the fallback queue, by result.",
		}, []string{"result"}),

		RemoteAvailable: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inlet_collector_remote_available",
			Help: "Whether the downstream target passed its startup check.",
		}, []string{"target"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inlet_collector_http_requests_total",
			Help: "Tracker endpoint requests, by status code.",
		}, []string{"code"}),
	}
}
