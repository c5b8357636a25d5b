package benchmarks

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/bus"
	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBus(b *testing.B, queue int) *bus.Bus {
	b.Helper()
	eb := bus.New(bus.Config{QueueSize: queue, PollInterval: time.Millisecond, Logger: discardLogger()})
	eb.Start()
	b.Cleanup(func() { _ = eb.Stop() })
	return eb
}

func tick(i int) *event.Event {
	return event.New(event.PriceChange, event.SourceMarketData,
		event.WithSubject("2330"),
		event.WithField("price", 580.0+float64(i%10)))
}

// BenchmarkPublish measures enqueue cost with no subscribers.
func BenchmarkPublish(b *testing.B) {
	eb := newBus(b, b.N+1)
	events := make([]*event.Event, b.N)
	for i := range events {
		events[i] = tick(i)
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = eb.Publish(ctx, events[i])
	}
}

// BenchmarkDispatch_Sync measures publish-to-delivery with one Sync subscriber.
func BenchmarkDispatch_Sync(b *testing.B) {
	benchmarkDispatch(b, bus.Sync, 1)
}

// BenchmarkDispatch_Async_4 measures publish-to-delivery with four Async
// subscribers on the worker pool.
func BenchmarkDispatch_Async_4(b *testing.B) {
	benchmarkDispatch(b, bus.Async, 4)
}

func benchmarkDispatch(b *testing.B, mode bus.Mode, subscribers int) {
	eb := newBus(b, b.N+1)
	var delivered atomic.Int64
	for i := 0; i < subscribers; i++ {
		_, err := eb.Subscribe(event.PriceChange, func(context.Context, *event.Event) error {
			delivered.Add(1)
			return nil
		}, mode)
		if err != nil {
			b.Fatal(err)
		}
	}

	ctx := context.Background()
	want := int64(b.N * subscribers)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = eb.Publish(ctx, tick(i))
	}
	for delivered.Load() < want && eb.Running() {
		if eb.Stats().Dropped > 0 {
			break
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// BenchmarkPublish_Parallel measures enqueue contention.
func BenchmarkPublish_Parallel(b *testing.B) {
	eb := newBus(b, 1<<20)
	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = eb.Publish(ctx, tick(i))
			i++
		}
	})
}
