package anomaly

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func run(t *testing.T, s processor.Stage, events ...*event.Event) []*event.Event {
	t.Helper()
	var out []*event.Event
	for _, e := range events {
		derived, err := s.Process(context.Background(), e)
		require.NoError(t, err)
		out = append(out, derived...)
	}
	return out
}

func repeat(n int, mk func() *event.Event) []*event.Event {
	out := make([]*event.Event, n)
	for i := range out {
		out[i] = mk()
	}
	return out
}

func news() *event.Event { return event.New(event.News, event.SourceNews) }

func priced(subject string, price any) *event.Event {
	return event.New(event.PriceChange, event.SourceMarketData,
		event.WithSubject(subject), event.WithField("price", price))
}

func TestMeanStdev(t *testing.T) {
	mean, stdev := meanStdev(nil)
	assert.Zero(t, mean)
	assert.Zero(t, stdev)

	mean, stdev = meanStdev([]float64{4})
	assert.Equal(t, 4.0, mean)
	assert.Zero(t, stdev)

	mean, stdev = meanStdev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 5.0, mean)
	assert.InDelta(t, 2.138, stdev, 1e-3)
}

func TestPush_Bounded(t *testing.T) {
	var xs []int
	for i := 0; i < 5; i++ {
		xs = push(xs, i, 3)
	}
	assert.Equal(t, []int{2, 3, 4}, xs)
}

func TestFrequencyDetector(t *testing.T) {
	clock := newFakeClock()
	d := NewFrequencyDetector(Config{Name: "freq", Window: 10 * time.Second, Clock: clock.Now})

	// Three quiet windows of two events each.
	assert.Empty(t, run(t, d, repeat(2, news)...))
	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Second)
		assert.Empty(t, run(t, d, repeat(2, news)...))
	}

	// mean 2, stdev floored at 1: the sixth event scores z=4.
	assert.Empty(t, run(t, d, repeat(3, news)...))
	trigger := news()
	out := run(t, d, trigger)
	require.Len(t, out, 1)

	a := out[0]
	assert.Equal(t, event.Composite, a.Type)
	assert.Equal(t, event.Warning, a.Severity)
	assert.Equal(t, []string{trigger.ID}, a.RelatedEvents)
	assert.Contains(t, a.Tags, "anomaly")
	assert.Contains(t, a.Tags, "frequency")
	assert.Equal(t, 6, a.Data["current_count"])
	assert.InDelta(t, 4.0, a.Data["z_score"], 1e-9)
	assert.Equal(t, "news", a.Data["event_type"])

	assert.Empty(t, run(t, d, repeat(5, news)...), "flagged once per window")

	other := event.New(event.News, event.SourceExternal)
	assert.Empty(t, run(t, d, other), "keys are per (type, source)")
}

func TestFrequencyDetector_NeedsHistory(t *testing.T) {
	clock := newFakeClock()
	d := NewFrequencyDetector(Config{Name: "freq", Window: 10 * time.Second, Clock: clock.Now})

	run(t, d, news())
	clock.Advance(10 * time.Second)
	run(t, d, news())
	clock.Advance(10 * time.Second)

	assert.Empty(t, run(t, d, repeat(100, news)...))
}

func TestPatternDetector(t *testing.T) {
	d, err := NewPatternDetector(Config{Name: "patterns"}, 2, 0.1)
	require.NoError(t, err)

	var stream []*event.Event
	for i := 0; i < 10; i++ {
		stream = append(stream,
			event.New(event.PriceChange, event.SourceMarketData),
			event.New(event.VolumeChange, event.SourceMarketData))
	}
	assert.Empty(t, run(t, d, stream...))
	assert.Equal(t, 19, d.Observed())

	rare := event.New(event.MarketCrash, event.SourceMarketData, event.WithSubject("TAIEX"))
	out := run(t, d, rare)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"volume_change", "market_crash"}, out[0].Data["pattern"])
	assert.Equal(t, 20, out[0].Data["observed"])
	assert.InDelta(t, 0.05, out[0].Data["frequency"], 1e-9)
	assert.Equal(t, []string{stream[len(stream)-1].ID, rare.ID}, out[0].RelatedEvents)
	assert.Equal(t, "TAIEX", out[0].Subject)
	assert.Contains(t, out[0].Tags, "pattern")
}

func TestPatternDetector_QuietUntilObserved(t *testing.T) {
	d, err := NewPatternDetector(Config{Name: "patterns"}, 2, 0.5)
	require.NoError(t, err)

	types := []event.Type{
		event.News, event.Earnings, event.Dividend, event.Regulatory,
		event.PriceChange, event.VolumeChange, event.MarketRally,
		event.OrderCreated, event.OrderFilled,
	}
	for _, typ := range types {
		assert.Empty(t, run(t, d, event.New(typ, event.SourceExternal)))
	}
	assert.Equal(t, 8, d.Observed())
}

func TestNewPatternDetector_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		rarity float64
	}{
		{"negative size", -1, 0.01},
		{"rarity one", 3, 1},
		{"negative rarity", 3, -0.5},
		{"oversized", patternBuffer + 1, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPatternDetector(Config{Name: "p"}, tt.size, tt.rarity)
			assert.ErrorIs(t, err, ErrInvalidPattern)
		})
	}

	d, err := NewPatternDetector(Config{Name: "p"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultPatternSize, d.size)
	assert.Equal(t, DefaultRarity, d.rarity)
}

func TestValueDetector(t *testing.T) {
	d, err := NewValueDetector(Config{Name: "prices"}, "price")
	require.NoError(t, err)

	assert.Empty(t, run(t, d, repeat(10, func() *event.Event { return priced("2330", 100.0) })...),
		"a value equal to the mean never flags")

	spike := priced("2330", 150.0)
	out := run(t, d, spike)
	require.Len(t, out, 1)
	assert.Equal(t, []string{spike.ID}, out[0].RelatedEvents)
	assert.Equal(t, "2330", out[0].Subject)
	assert.Equal(t, 150.0, out[0].Data["value"])
	assert.Equal(t, 100.0, out[0].Data["mean"])
	assert.Greater(t, out[0].Data["z_score"], 3.0)
	assert.Contains(t, out[0].Tags, "value")

	assert.Empty(t, run(t, d, priced("2330", 100.0)), "spike widens the history")
}

func TestValueDetector_NegativeDeviation(t *testing.T) {
	d, err := NewValueDetector(Config{Name: "prices", Threshold: 2}, "price")
	require.NoError(t, err)

	run(t, d, repeat(12, func() *event.Event { return priced("2317", 120) })...)
	out := run(t, d, priced("2317", 60))
	require.Len(t, out, 1)
	assert.Less(t, out[0].Data["z_score"], -2.0)
}

func TestValueDetector_NeedsSamples(t *testing.T) {
	d, err := NewValueDetector(Config{Name: "prices"}, "price")
	require.NoError(t, err)

	run(t, d, repeat(8, func() *event.Event { return priced("2330", 100.0) })...)
	assert.Empty(t, run(t, d, priced("2330", 1000.0)))
	assert.Equal(t, 9, d.Samples("2330"))
}

func TestValueDetector_SubjectsAndCoercion(t *testing.T) {
	d, err := NewValueDetector(Config{Name: "prices"}, "price")
	require.NoError(t, err)

	run(t, d,
		priced("", 1.0),
		priced("2330", "580.5"),
		priced("2330", true),
		priced("2330", "n/a"),
		priced("2330", nil),
		event.New(event.PriceChange, event.SourceMarketData, event.WithSubject("2330")),
	)
	assert.Equal(t, 1, d.Samples(""))
	assert.Equal(t, 1, d.Samples(unknownSubject))
	assert.Equal(t, 1, d.Samples("2330"))
}

func TestNewValueDetector_MissingField(t *testing.T) {
	_, err := NewValueDetector(Config{Name: "prices"}, "")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestDetectors_IgnoreOwnOutputs(t *testing.T) {
	d, err := NewValueDetector(Config{Name: "prices"}, "value")
	require.NoError(t, err)

	own, err := processor.NewComposite("prices", event.SourceMonitoring, time.Now(), "x",
		[]string{"e1"}, nil, event.WithField("value", 1.0))
	require.NoError(t, err)

	assert.Empty(t, run(t, d, own))
	assert.Zero(t, d.Samples(""))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Name: "d"}.withDefaults()
	assert.Equal(t, DefaultThreshold, cfg.Threshold)
	assert.Equal(t, DefaultWindow, cfg.Window)
	assert.Equal(t, event.SourceMonitoring, cfg.Source)
}
