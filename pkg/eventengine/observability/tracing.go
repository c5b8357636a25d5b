package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// Scope is the instrumentation scope of the engine's spans and instruments.
const Scope = "github.com/randalmurphal/eventengine"

// Tracer opens the spans of one event's trip through the engine: a consumer
// span per bus dispatch, with an internal child per processor invocation.
type Tracer interface {
	Dispatch(ctx context.Context, evt *event.Event) (context.Context, trace.Span)
	Process(ctx context.Context, stage string, evt *event.Event) (context.Context, trace.Span)

	// Emitted records the outputs of a processor on the span in ctx.
	Emitted(ctx context.Context, outputs []*event.Event)

	// End closes span with an Ok status, or Error when err is set.
	End(span trace.Span, err error)
}

type otelTracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer on tp, or on the global provider when tp is nil.
func NewTracer(tp trace.TracerProvider) Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return otelTracer{tracer: tp.Tracer(Scope)}
}

func (t otelTracer) Dispatch(ctx context.Context, evt *event.Event) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "dispatch "+evt.Type.String(),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(spanAttrs(evt)...),
	)
}

func (t otelTracer) Process(ctx context.Context, stage string, evt *event.Event) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "process "+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append(spanAttrs(evt), attribute.String("processor.name", stage))...),
	)
}

func (otelTracer) Emitted(ctx context.Context, outputs []*event.Event) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	for _, out := range outputs {
		span.AddEvent("emitted", trace.WithAttributes(
			attribute.String("event.id", out.ID),
			attribute.String("event.type", out.Type.String()),
			attribute.StringSlice("event.related", out.RelatedEvents),
		))
	}
}

func (otelTracer) End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func spanAttrs(evt *event.Event) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("event.id", evt.ID),
		attribute.String("event.type", evt.Type.String()),
		attribute.String("event.source", evt.Source.String()),
		attribute.String("event.severity", evt.Severity.String()),
	}
	if evt.Subject != "" {
		attrs = append(attrs, attribute.String("event.subject", evt.Subject))
	}
	return attrs
}
