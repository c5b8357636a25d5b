package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordPublish(context.Context, string, bool) {}
func (NoopMetrics) RecordDispatch(context.Context, string, int, time.Duration) {}
func (NoopMetrics) RecordDuplicate(context.Context, string) {}
func (NoopMetrics) RecordSubscriberError(context.Context, string) {}
func (NoopMetrics) RecordStoreWrite(context.Context, time.Duration, error) {}
func (NoopMetrics) RecordProcessor(context.Context, string, time.Duration, int, error) {}

// NoopTracer opens no spans and leaves ctx untouched.
type NoopTracer struct{}

var _ Tracer = NoopTracer{}

func (NoopTracer) Dispatch(ctx context.Context, _ *event.Event) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopTracer) Process(ctx context.Context, _ string, _ *event.Event) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopTracer) Emitted(context.Context, []*event.Event) {}

func (NoopTracer) End(trace.Span, error) {}
