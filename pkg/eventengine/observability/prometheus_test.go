package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusMetrics(reg)
	ctx := context.Background()

	p.RecordPublish(ctx, "news", true)
	p.RecordPublish(ctx, "news", false)
	p.RecordDispatch(ctx, "news", 2, time.Millisecond)
	p.RecordDuplicate(ctx, "news")
	p.RecordSubscriberError(ctx, "store")
	p.RecordStoreWrite(ctx, time.Millisecond, nil)
	p.RecordStoreWrite(ctx, time.Millisecond, errors.New("locked"))
	p.RecordProcessor(ctx, "burst", time.Millisecond, 3, nil)
	p.ObserveQueue(25, 100)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.EventsPublished.WithLabelValues("news")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.EventsRejected.WithLabelValues("news")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.EventsDispatched.WithLabelValues("news")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.EventsDuplicate))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.SubscriberErrors.WithLabelValues("store")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.StoreWrites.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.StoreWrites.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.ProcessorRuns.WithLabelValues("burst", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.EventsEmitted.WithLabelValues("burst")))
	assert.Equal(t, 0.25, testutil.ToFloat64(p.QueueUtilization))
}

func TestPrometheusMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusMetrics(reg)

	assert.Panics(t, func() { NewPrometheusMetrics(reg) })
}
