// Package aggregate provides windowed aggregators. An aggregator buffers the
// events it receives and, once its window has elapsed since the last flush,
// summarizes the buffer into composite events and clears it. Between flushes
// it emits nothing.
//
// The window is checked on every event and on Flush, so a processor.Runner
// with a flush interval closes windows even when traffic stops.
package aggregate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

// DefaultWindow is the aggregation window when Config.Window is zero.
const DefaultWindow = 60 * time.Second

// Config configures an aggregator.
type Config struct {
	// Name identifies the aggregator. Required.
	Name string

	// Types restricts the aggregated event types. Nil aggregates all types.
	Types []event.Type

	// Window is the time between flushes.
	// Default: 60s
	Window time.Duration

	// Threshold is the minimum group size that produces a summary.
	// Default depends on the aggregator.
	Threshold int

	// Source is stamped on summary events.
	// Default: event.SourceMonitoring
	Source event.Source

	// IncludeComposite admits composite events from other stages. Events
	// the aggregator emitted itself are always ignored.
	IncludeComposite bool

	// Clock drives the window. Default: time.Now.
	Clock processor.Clock
}

func (c Config) withDefaults(threshold int) Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Threshold <= 0 {
		c.Threshold = threshold
	}
	if c.Source == "" {
		c.Source = event.SourceMonitoring
	}
	return c
}

// summarizeFunc turns a closed window into summary events.
type summarizeFunc func(buffer []*event.Event, now time.Time) []*event.Event

// window is the buffering core shared by the aggregators.
type window struct {
	cfg       Config
	summarize summarizeFunc

	mu        sync.Mutex
	buffer    []*event.Event
	lastFlush time.Time
}

func newWindow(cfg Config, fn summarizeFunc) *window {
	return &window{cfg: cfg, summarize: fn, lastFlush: cfg.Clock.Now()}
}

func (w *window) Name() string        { return w.cfg.Name }
func (w *window) Types() []event.Type { return w.cfg.Types }

// Process buffers evt and closes the window if it has elapsed.
func (w *window) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	if processor.EmittedBy(evt, w.cfg.Name) || (evt.IsComposite() && !w.cfg.IncludeComposite) {
		return nil, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer = append(w.buffer, evt)
	return w.closeIfDue(), nil
}

// Flush closes the window if it has elapsed.
func (w *window) Flush(context.Context) ([]*event.Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeIfDue(), nil
}

// Pending returns the number of buffered events.
func (w *window) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// closeIfDue summarizes and clears the buffer. Caller holds w.mu.
func (w *window) closeIfDue() []*event.Event {
	now := w.cfg.Clock.Now()
	if now.Sub(w.lastFlush) < w.cfg.Window {
		return nil
	}
	buffer := w.buffer
	w.buffer = nil
	w.lastFlush = now
	if len(buffer) == 0 {
		return nil
	}
	return w.summarize(buffer, now)
}

// tally counts keys and remembers first-seen order for deterministic ties.
type tally struct {
	counts map[string]int
	order  []string
}

func newTally() *tally {
	return &tally{counts: make(map[string]int)}
}

func (t *tally) add(key string) {
	if _, ok := t.counts[key]; !ok {
		t.order = append(t.order, key)
	}
	t.counts[key]++
}

// top returns the most frequent key; ties go to the key seen first.
func (t *tally) top() string {
	best := ""
	for _, k := range t.order {
		if best == "" || t.counts[k] > t.counts[best] {
			best = k
		}
	}
	return best
}

// asData converts the counts to a payload map.
func (t *tally) asData() map[string]any {
	out := make(map[string]any, len(t.counts))
	for k, n := range t.counts {
		out[k] = n
	}
	return out
}

func ids(events []*event.Event) []string {
	out := make([]string, 0, min(len(events), event.MaxRelated))
	for _, e := range events {
		if len(out) == event.MaxRelated {
			break
		}
		out = append(out, e.ID)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
