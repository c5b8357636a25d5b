// Package observability provides structured logging, metrics and tracing
// for the event engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// EnrichLogger adds the component name to a logger.
//
// Example:
//
//	logger = EnrichLogger(logger, "bus")
//	logger.Info("started") // includes component=bus
func EnrichLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("component", component))
}

// EventAttrs returns the attributes identifying an event in log lines.
func EventAttrs(evt *event.Event) []any {
	if evt == nil {
		return nil
	}
	attrs := []any{
		slog.String("event_id", evt.ID),
		slog.String("event_type", evt.Type.String()),
		slog.String("source", evt.Source.String()),
	}
	if evt.Subject != "" {
		attrs = append(attrs, slog.String("subject", evt.Subject))
	}
	return attrs
}

// LogLifecycle logs a start/stop transition of a component.
func LogLifecycle(logger *slog.Logger, state string, attrs ...any) {
	if logger == nil {
		return
	}
	logger.Info("component "+state, attrs...)
}

// LogPublishRejected logs an event the bus refused to enqueue.
func LogPublishRejected(logger *slog.Logger, evt *event.Event, err error) {
	if logger == nil {
		return
	}
	attrs := append(EventAttrs(evt), slog.String("error", err.Error()))
	logger.Warn("publish rejected", attrs...)
}

// LogDuplicate logs an event dropped by deduplication.
func LogDuplicate(logger *slog.Logger, evt *event.Event) {
	if logger == nil {
		return
	}
	logger.Debug("duplicate event dropped", EventAttrs(evt)...)
}

// LogSubscriberError logs a failed subscriber callback.
func LogSubscriberError(logger *slog.Logger, subscriber string, evt *event.Event, err error) {
	if logger == nil {
		return
	}
	attrs := append(EventAttrs(evt),
		slog.String("subscriber", subscriber),
		slog.String("error", err.Error()),
	)
	logger.Error("subscriber failed", attrs...)
}

// LogStoreError logs a failed store operation (non-fatal).
func LogStoreError(logger *slog.Logger, op string, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("store operation failed",
		slog.String("operation", op),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogRetention logs a retention sweep that removed rows.
func LogRetention(logger *slog.Logger, removed int, maxEvents int) {
	if logger == nil {
		return
	}
	logger.Debug("retention sweep",
		slog.Int("removed", removed),
		slog.Int("max_events", maxEvents),
	)
}

// LogProcessorError logs a processor that failed on an event.
func LogProcessorError(logger *slog.Logger, processor string, evt *event.Event, err error) {
	if logger == nil {
		return
	}
	attrs := append(EventAttrs(evt),
		slog.String("processor", processor),
		slog.String("error", err.Error()),
	)
	logger.Error("processor failed", attrs...)
}

// LogProcessorEmit logs derived events produced by a processor.
func LogProcessorEmit(logger *slog.Logger, processor string, emitted int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("processor emitted events",
		slog.String("processor", processor),
		slog.Int("emitted", emitted),
		slog.Float64("duration_ms", durationMs),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
