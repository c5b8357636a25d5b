package benchmarks

import (
	"context"
	"testing"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/aggregate"
	"github.com/randalmurphal/eventengine/pkg/eventengine/anomaly"
	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/filter"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

// BenchmarkExprFilter evaluates a two-clause expression.
func BenchmarkExprFilter(b *testing.B) {
	f, err := filter.NewExprFilter("big-moves", "type == price_change and data.price > 585")
	if err != nil {
		b.Fatal(err)
	}
	evt := tick(7)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Matches(evt)
	}
}

// BenchmarkSubjectAggregator buffers events into a window that never closes.
func BenchmarkSubjectAggregator(b *testing.B) {
	agg := aggregate.NewSubjectAggregator(aggregate.Config{Name: "tsmc", Window: time.Hour})
	benchmarkStage(b, agg)
}

// BenchmarkValueDetector scores each price against a full history.
func BenchmarkValueDetector(b *testing.B) {
	d, err := anomaly.NewValueDetector(anomaly.Config{Name: "prices"}, "price")
	if err != nil {
		b.Fatal(err)
	}
	benchmarkStage(b, d)
}

// BenchmarkChain runs a filter followed by a detector.
func BenchmarkChain(b *testing.B) {
	d, err := anomaly.NewValueDetector(anomaly.Config{Name: "prices"}, "price")
	if err != nil {
		b.Fatal(err)
	}
	c := processor.Chain("tsmc-spikes",
		filter.NewTypeFilter("prices", []event.Type{event.PriceChange}, nil),
		d,
	)
	benchmarkStage(b, c)
}

func benchmarkStage(b *testing.B, s processor.Stage) {
	ctx := context.Background()
	events := make([]*event.Event, 1000)
	for i := range events {
		events[i] = tick(i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Process(ctx, events[i%len(events)])
	}
}
