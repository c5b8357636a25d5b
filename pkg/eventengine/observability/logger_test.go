package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

func newCaptureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h), buf
}

// records decodes every JSON log line written to buf.
func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestEnrichLogger(t *testing.T) {
	logger, buf := newCaptureLogger()

	EnrichLogger(logger, "bus").Info("started")

	recs := records(t, buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "bus", recs[0]["component"])
	assert.Nil(t, EnrichLogger(nil, "bus"))
}

func TestLogSubscriberError(t *testing.T) {
	logger, buf := newCaptureLogger()
	evt := event.New(event.PriceChange, event.SourceMarketData,
		event.WithEventID("evt-1"), event.WithSubject("2330"))

	LogSubscriberError(logger, "store", evt, errors.New("disk full"))

	recs := records(t, buf)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "subscriber failed", rec["msg"])
	assert.Equal(t, "evt-1", rec["event_id"])
	assert.Equal(t, "price_change", rec["event_type"])
	assert.Equal(t, "market_data", rec["source"])
	assert.Equal(t, "2330", rec["subject"])
	assert.Equal(t, "store", rec["subscriber"])
	assert.Equal(t, "disk full", rec["error"])
}

func TestLogPublishRejected(t *testing.T) {
	logger, buf := newCaptureLogger()
	evt := event.New(event.News, event.SourceNews)

	LogPublishRejected(logger, evt, errors.New("queue full"))

	recs := records(t, buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "WARN", recs[0]["level"])
	assert.Equal(t, "queue full", recs[0]["error"])
	assert.NotContains(t, recs[0], "subject")
}

func TestLogHelpers_NilLogger(t *testing.T) {
	evt := event.New(event.News, event.SourceNews)
	err := errors.New("boom")

	assert.NotPanics(t, func() {
		LogLifecycle(nil, "started")
		LogPublishRejected(nil, evt, err)
		LogDuplicate(nil, evt)
		LogSubscriberError(nil, "x", evt, err)
		LogStoreError(nil, "put", evt.ID, err)
		LogRetention(nil, 1, 2)
		LogProcessorError(nil, "p", evt, err)
		LogProcessorEmit(nil, "p", 1, 0.5)
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	assert.GreaterOrEqual(t, done(), 0.0)
}
