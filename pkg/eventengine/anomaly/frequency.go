package anomaly

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

type frequencyKey struct {
	typ    event.Type
	source event.Source
}

type frequencyState struct {
	start   time.Time
	count   int
	history []float64
	flagged bool
}

// FrequencyDetector counts events per (type, source) in fixed windows. When
// a window rolls over its count joins a bounded history. Once three windows
// are known, a running count whose z-score exceeds the threshold is flagged,
// at most once per window.
type FrequencyDetector struct {
	base

	mu   sync.Mutex
	keys map[frequencyKey]*frequencyState
}

var _ processor.Stage = (*FrequencyDetector)(nil)

// NewFrequencyDetector creates a FrequencyDetector.
func NewFrequencyDetector(cfg Config) *FrequencyDetector {
	return &FrequencyDetector{
		base: base{cfg: cfg.withDefaults()},
		keys: make(map[frequencyKey]*frequencyState),
	}
}

// Process implements processor.Stage.
func (d *FrequencyDetector) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	if d.own(evt) {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.cfg.Clock.Now()
	key := frequencyKey{typ: evt.Type, source: evt.Source}
	st, ok := d.keys[key]
	if !ok {
		st = &frequencyState{start: now}
		d.keys[key] = st
	}
	if now.Sub(st.start) >= d.cfg.Window {
		st.history = push(st.history, float64(st.count), frequencyHistory)
		st.start = now
		st.count = 0
		st.flagged = false
	}
	st.count++

	if st.flagged || len(st.history) < frequencyMinSamples {
		return nil, nil
	}

	mean, stdev := meanStdev(st.history)
	z := (float64(st.count) - mean) / max(stdev, 1.0)
	if z <= d.cfg.Threshold {
		return nil, nil
	}
	st.flagged = true

	out, err := d.emit(now,
		fmt.Sprintf("unusual %s frequency from %s: %d events (mean %.1f)", evt.Type, evt.Source, st.count, mean),
		[]string{evt.ID}, []string{"frequency"},
		event.WithSubject(evt.Subject),
		event.WithData(map[string]any{
			"event_type":     string(evt.Type),
			"event_source":   string(evt.Source),
			"current_count":  st.count,
			"mean":           mean,
			"stdev":          stdev,
			"z_score":        z,
			"threshold":      d.cfg.Threshold,
			"window_seconds": d.cfg.Window.Seconds(),
		}),
	)
	if err != nil {
		return nil, err
	}
	return []*event.Event{out}, nil
}
