package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// recordingMeter returns a meter provider whose measurements are read
// through the returned reader.
func recordingMeter(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64], got %T", m.Data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetricsRecorder(t *testing.T) {
	provider, _ := recordingMeter(t)

	_, isNoop := NewMetricsRecorder(provider).(NoopMetrics)
	assert.False(t, isNoop)

	_, isNoop = NewMetricsRecorder(nil).(NoopMetrics)
	assert.False(t, isNoop, "nil selects the global provider")
}

func TestOtelMetrics_Bus(t *testing.T) {
	provider, reader := recordingMeter(t)
	m := NewMetricsRecorder(provider)
	ctx := context.Background()

	m.RecordPublish(ctx, "price_change", true)
	m.RecordPublish(ctx, "price_change", true)
	m.RecordPublish(ctx, "price_change", false)
	m.RecordDispatch(ctx, "price_change", 3, 2*time.Millisecond)
	m.RecordDuplicate(ctx, "price_change")
	m.RecordSubscriberError(ctx, "store")

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "eventengine.bus.published")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "eventengine.bus.rejected")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "eventengine.bus.dispatched")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "eventengine.bus.duplicates")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "eventengine.bus.subscriber_errors")))
	assert.NotNil(t, findMetric(rm, "eventengine.bus.dispatch_latency_ms"))
}

func TestOtelMetrics_StoreAndProcessor(t *testing.T) {
	provider, reader := recordingMeter(t)
	m := NewMetricsRecorder(provider)
	ctx := context.Background()

	m.RecordStoreWrite(ctx, time.Millisecond, nil)
	m.RecordStoreWrite(ctx, time.Millisecond, errors.New("locked"))
	m.RecordProcessor(ctx, "burst", time.Millisecond, 2, nil)
	m.RecordProcessor(ctx, "burst", time.Millisecond, 0, errors.New("bad"))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "eventengine.store.writes")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "eventengine.store.errors")))
	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "eventengine.processor.processed")))
	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "eventengine.processor.emitted")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "eventengine.processor.errors")))
}
