package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder receives the engine's measurements. Implementations:
// NewMetricsRecorder (OpenTelemetry), NewPrometheusMetrics, NoopMetrics.
type MetricsRecorder interface {
	// RecordPublish records a publish attempt and whether the bus accepted it.
	RecordPublish(ctx context.Context, eventType string, accepted bool)

	// RecordDispatch records one event fanned out to its subscribers.
	RecordDispatch(ctx context.Context, eventType string, subscribers int, duration time.Duration)

	// RecordDuplicate records an event dropped by deduplication.
	RecordDuplicate(ctx context.Context, eventType string)

	// RecordSubscriberError records a subscriber callback that failed or panicked.
	RecordSubscriberError(ctx context.Context, subscriber string)

	// RecordStoreWrite records a store write with its duration and error status.
	RecordStoreWrite(ctx context.Context, duration time.Duration, err error)

	// RecordProcessor records one processor invocation.
	RecordProcessor(ctx context.Context, processor string, duration time.Duration, emitted int, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	published        metric.Int64Counter
	rejected         metric.Int64Counter
	dispatched       metric.Int64Counter
	dispatchLatency  metric.Float64Histogram
	duplicates       metric.Int64Counter
	subscriberErrors metric.Int64Counter
	storeWrites      metric.Int64Counter
	storeErrors      metric.Int64Counter
	storeLatency     metric.Float64Histogram
	processed        metric.Int64Counter
	processorErrors  metric.Int64Counter
	emitted          metric.Int64Counter
	processorLatency metric.Float64Histogram
}

// NewMetricsRecorder returns an OpenTelemetry recorder on mp, or on the
// global provider when mp is nil. It falls back to NoopMetrics when an
// instrument cannot be created.
func NewMetricsRecorder(mp metric.MeterProvider) MetricsRecorder {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m, err := newOtelMetrics(mp.Meter(Scope))
	if err != nil {
		slog.Warn("metrics disabled", slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	m := &otelMetrics{}
	var err error
	counter := func(dst *metric.Int64Counter, name, desc string) {
		if err == nil {
			*dst, err = meter.Int64Counter("eventengine."+name, metric.WithDescription(desc))
		}
	}
	latency := func(dst *metric.Float64Histogram, name, desc string) {
		if err == nil {
			*dst, err = meter.Float64Histogram("eventengine."+name,
				metric.WithDescription(desc), metric.WithUnit("ms"))
		}
	}

	counter(&m.published, "bus.published", "Events accepted by the bus")
	counter(&m.rejected, "bus.rejected", "Events refused by the bus")
	counter(&m.dispatched, "bus.dispatched", "Events fanned out to subscribers")
	counter(&m.duplicates, "bus.duplicates", "Events dropped as already seen")
	counter(&m.subscriberErrors, "bus.subscriber_errors", "Subscriber callbacks that failed or panicked")
	latency(&m.dispatchLatency, "bus.dispatch_latency_ms", "Time to fan one event out")

	counter(&m.storeWrites, "store.writes", "Store writes attempted")
	counter(&m.storeErrors, "store.errors", "Store writes that failed")
	latency(&m.storeLatency, "store.write_latency_ms", "Store write time")

	counter(&m.processed, "processor.processed", "Events handed to a processor")
	counter(&m.processorErrors, "processor.errors", "Processor invocations that failed")
	counter(&m.emitted, "processor.emitted", "Derived events published by processors")
	latency(&m.processorLatency, "processor.latency_ms", "Processor invocation time")

	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *otelMetrics) RecordPublish(ctx context.Context, eventType string, accepted bool) {
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))
	if accepted {
		m.published.Add(ctx, 1, attrs)
		return
	}
	m.rejected.Add(ctx, 1, attrs)
}

func (m *otelMetrics) RecordDispatch(ctx context.Context, eventType string, subscribers int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.Int("subscribers", subscribers),
	)
	m.dispatched.Add(ctx, 1, attrs)
	m.dispatchLatency.Record(ctx, milliseconds(duration), attrs)
}

func (m *otelMetrics) RecordDuplicate(ctx context.Context, eventType string) {
	m.duplicates.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *otelMetrics) RecordSubscriberError(ctx context.Context, subscriber string) {
	m.subscriberErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("subscriber", subscriber)))
}

func (m *otelMetrics) RecordStoreWrite(ctx context.Context, duration time.Duration, err error) {
	m.storeWrites.Add(ctx, 1)
	m.storeLatency.Record(ctx, milliseconds(duration))
	if err != nil {
		m.storeErrors.Add(ctx, 1)
	}
}

func (m *otelMetrics) RecordProcessor(ctx context.Context, processor string, duration time.Duration, emitted int, err error) {
	attrs := metric.WithAttributes(attribute.String("processor", processor))
	m.processed.Add(ctx, 1, attrs)
	m.processorLatency.Record(ctx, milliseconds(duration), attrs)
	if emitted > 0 {
		m.emitted.Add(ctx, int64(emitted), attrs)
	}
	if err != nil {
		m.processorErrors.Add(ctx, 1, attrs)
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
