package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// QueueObserver is implemented by recorders that track bus queue utilization.
type QueueObserver interface {
	ObserveQueue(depth, capacity int)
}

// PrometheusMetrics implements MetricsRecorder with Prometheus collectors.
type PrometheusMetrics struct {
	EventsPublished  *prometheus.CounterVec
	EventsRejected   *prometheus.CounterVec
	EventsDispatched *prometheus.CounterVec
	EventsDuplicate  prometheus.Counter
	SubscriberErrors *prometheus.CounterVec
	StoreWrites      *prometheus.CounterVec
	ProcessorRuns    *prometheus.CounterVec
	EventsEmitted    *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	StoreDuration    prometheus.Histogram
	QueueUtilization prometheus.Gauge
}

var (
	_ MetricsRecorder = (*PrometheusMetrics)(nil)
	_ QueueObserver   = (*PrometheusMetrics)(nil)
)

var latencyBuckets = []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 1000}

// NewPrometheusMetrics registers the engine collectors on reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	f := promauto.With(reg)
	return &PrometheusMetrics{
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventengine_events_published_total",
			Help: "Total number of events accepted by the bus.",
		}, []string{"event_type"}),
		EventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventengine_events_rejected_total",
			Help: "Total number of events rejected by the bus.",
		}, []string{"event_type"}),
		EventsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventengine_events_dispatched_total",
			Help: "Total number of events fanned out to subscribers.",
		}, []string{"event_type"}),
		EventsDuplicate: f.NewCounter(prometheus.CounterOpts{
			Name: "eventengine_events_duplicate_total",
			Help: "Total number of events dropped by deduplication.",
		}),
		SubscriberErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventengine_subscriber_errors_total",
			Help: "Total number of failed subscriber callbacks, labelled by subscriber.",
		}, []string{"subscriber"}),
		StoreWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventengine_store_writes_total",
			Help: "Total number of store writes, labelled by status.",
		}, []string{"status"}),
		ProcessorRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventengine_processor_runs_total",
			Help: "Total number of processor invocations, labelled by processor and status.",
		}, []string{"processor", "status"}),
		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventengine_events_emitted_total",
			Help: "Total number of derived events emitted, labelled by processor.",
		}, []string{"processor"}),
		DispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventengine_dispatch_duration_ms",
			Help:    "Dispatch latency in milliseconds.",
			Buckets: latencyBuckets,
		}),
		StoreDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventengine_store_write_duration_ms",
			Help:    "Store write latency in milliseconds.",
			Buckets: latencyBuckets,
		}),
		QueueUtilization: f.NewGauge(prometheus.GaugeOpts{
			Name: "eventengine_queue_utilization_ratio",
			Help: "Current bus queue utilization (0-1).",
		}),
	}
}

func (p *PrometheusMetrics) RecordPublish(_ context.Context, eventType string, accepted bool) {
	if accepted {
		p.EventsPublished.WithLabelValues(eventType).Inc()
		return
	}
	p.EventsRejected.WithLabelValues(eventType).Inc()
}

func (p *PrometheusMetrics) RecordDispatch(_ context.Context, eventType string, _ int, duration time.Duration) {
	p.EventsDispatched.WithLabelValues(eventType).Inc()
	p.DispatchDuration.Observe(milliseconds(duration))
}

func (p *PrometheusMetrics) RecordDuplicate(_ context.Context, _ string) {
	p.EventsDuplicate.Inc()
}

func (p *PrometheusMetrics) RecordSubscriberError(_ context.Context, subscriber string) {
	p.SubscriberErrors.WithLabelValues(subscriber).Inc()
}

func (p *PrometheusMetrics) RecordStoreWrite(_ context.Context, duration time.Duration, err error) {
	p.StoreWrites.WithLabelValues(status(err)).Inc()
	p.StoreDuration.Observe(milliseconds(duration))
}

func (p *PrometheusMetrics) RecordProcessor(_ context.Context, processor string, _ time.Duration, emitted int, err error) {
	p.ProcessorRuns.WithLabelValues(processor, status(err)).Inc()
	if emitted > 0 {
		p.EventsEmitted.WithLabelValues(processor).Add(float64(emitted))
	}
}

// ObserveQueue sets the queue utilization gauge.
func (p *PrometheusMetrics) ObserveQueue(depth, capacity int) {
	if capacity <= 0 {
		return
	}
	p.QueueUtilization.Set(float64(depth) / float64(capacity))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
