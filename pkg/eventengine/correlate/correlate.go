// Package correlate finds relationships between events inside a rolling
// window: ordered sequences, bursts on one subject, and caller-defined rules.
//
// Every correlator keeps a bounded buffer of recent events. Entries older
// than the window, or beyond the buffer size, are dropped.
package correlate

import (
	"sync"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

// Defaults.
const (
	DefaultWindow           = 5 * time.Minute
	DefaultBufferSize       = 1000
	DefaultSubjectThreshold = 5
)

// Config configures a correlator.
type Config struct {
	// Name identifies the correlator. Required.
	Name string

	// Types restricts the event types received. Nil receives all types.
	Types []event.Type

	// Window is the correlation window.
	// Default: 5m
	Window time.Duration

	// BufferSize bounds the rolling buffer.
	// Default: 1000
	BufferSize int

	// Threshold is the bucket size that triggers a SubjectCorrelator.
	// Default: 5
	Threshold int

	// Source is stamped on emitted events.
	// Default: event.SourceMonitoring
	Source event.Source

	// Clock drives the window. Default: time.Now.
	Clock processor.Clock
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultSubjectThreshold
	}
	if c.Source == "" {
		c.Source = event.SourceMonitoring
	}
	return c
}

type entry struct {
	at  time.Time
	evt *event.Event
}

// recent is the rolling buffer. Callers hold the correlator's lock.
type recent struct {
	window  time.Duration
	size    int
	entries []entry
}

func (r *recent) add(evt *event.Event, now time.Time) {
	r.prune(now)
	r.entries = append(r.entries, entry{at: now, evt: evt})
	if over := len(r.entries) - r.size; over > 0 {
		r.entries = append(r.entries[:0:0], r.entries[over:]...)
	}
}

func (r *recent) prune(now time.Time) {
	cut := 0
	for cut < len(r.entries) && now.Sub(r.entries[cut].at) > r.window {
		cut++
	}
	if cut > 0 {
		r.entries = append(r.entries[:0:0], r.entries[cut:]...)
	}
}

func (r *recent) events() []*event.Event {
	out := make([]*event.Event, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.evt
	}
	return out
}

// core holds what every correlator shares.
type core struct {
	cfg Config

	mu     sync.Mutex
	buffer recent
}

func newCore(cfg Config) *core {
	cfg = cfg.withDefaults()
	return &core{cfg: cfg, buffer: recent{window: cfg.Window, size: cfg.BufferSize}}
}

func (c *core) Name() string        { return c.cfg.Name }
func (c *core) Types() []event.Type { return c.cfg.Types }

// BufferLen returns the number of events in the rolling buffer.
func (c *core) BufferLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer.prune(c.cfg.Clock.Now())
	return len(c.buffer.entries)
}

func (c *core) own(evt *event.Event) bool {
	return processor.EmittedBy(evt, c.cfg.Name)
}

func idsOf(events []*event.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}
