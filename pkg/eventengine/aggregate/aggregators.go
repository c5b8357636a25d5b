package aggregate

import (
	"fmt"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

// Default thresholds.
const (
	DefaultCountThreshold    = 10
	DefaultSubjectThreshold  = 5
	DefaultSeverityThreshold = 3
)

// CountAggregator emits one summary when a window holds at least Threshold
// events.
type CountAggregator struct {
	*window
}

var (
	_ processor.Stage   = (*CountAggregator)(nil)
	_ processor.Flusher = (*CountAggregator)(nil)
)

// NewCountAggregator creates a CountAggregator. Default threshold: 10.
func NewCountAggregator(cfg Config) *CountAggregator {
	cfg = cfg.withDefaults(DefaultCountThreshold)
	a := &CountAggregator{}
	a.window = newWindow(cfg, a.summarize)
	return a
}

func (a *CountAggregator) summarize(buffer []*event.Event, now time.Time) []*event.Event {
	if len(buffer) < a.cfg.Threshold {
		return nil
	}

	types, sources := newTally(), newTally()
	for _, e := range buffer {
		types.add(string(e.Type))
		sources.add(string(e.Source))
	}

	out, err := processor.NewComposite(a.cfg.Name, a.cfg.Source, now,
		fmt.Sprintf("%d events in %s window", len(buffer), a.cfg.Window),
		ids(buffer), []string{"aggregated", "count"},
		event.WithData(map[string]any{
			"count":           len(buffer),
			"window_seconds":  a.cfg.Window.Seconds(),
			"dominant_type":   types.top(),
			"dominant_source": sources.top(),
			"types":           types.asData(),
			"sources":         sources.asData(),
		}),
	)
	if err != nil {
		return nil
	}
	return []*event.Event{out}
}

// SubjectAggregator groups a window by subject and emits one summary per
// subject with at least Threshold events. Events without a subject are not
// grouped.
type SubjectAggregator struct {
	*window
}

var (
	_ processor.Stage   = (*SubjectAggregator)(nil)
	_ processor.Flusher = (*SubjectAggregator)(nil)
)

// NewSubjectAggregator creates a SubjectAggregator. Default threshold: 5.
func NewSubjectAggregator(cfg Config) *SubjectAggregator {
	cfg = cfg.withDefaults(DefaultSubjectThreshold)
	a := &SubjectAggregator{}
	a.window = newWindow(cfg, a.summarize)
	return a
}

func (a *SubjectAggregator) summarize(buffer []*event.Event, now time.Time) []*event.Event {
	groups := make(map[string][]*event.Event)
	for _, e := range buffer {
		if e.HasSubject() {
			groups[e.Subject] = append(groups[e.Subject], e)
		}
	}

	var out []*event.Event
	for _, subject := range sortedKeys(groups) {
		group := groups[subject]
		if len(group) < a.cfg.Threshold {
			continue
		}

		types := newTally()
		for _, e := range group {
			types.add(string(e.Type))
		}
		summary, err := processor.NewComposite(a.cfg.Name, a.cfg.Source, now,
			fmt.Sprintf("%d events for %s in %s window", len(group), subject, a.cfg.Window),
			ids(group), []string{"aggregated", "subject"},
			event.WithSubject(subject),
			event.WithData(map[string]any{
				"count":          len(group),
				"window_seconds": a.cfg.Window.Seconds(),
				"dominant_type":  types.top(),
				"types":          types.asData(),
			}),
		)
		if err != nil {
			continue
		}
		out = append(out, summary)
	}
	return out
}

// SeverityAggregator emits one Critical summary when a window holds at least
// Threshold events at or above MinSeverity.
type SeverityAggregator struct {
	*window
	minSeverity event.Severity
}

var (
	_ processor.Stage   = (*SeverityAggregator)(nil)
	_ processor.Flusher = (*SeverityAggregator)(nil)
)

// NewSeverityAggregator creates a SeverityAggregator. Default threshold: 3.
func NewSeverityAggregator(cfg Config, minSeverity event.Severity) *SeverityAggregator {
	cfg = cfg.withDefaults(DefaultSeverityThreshold)
	a := &SeverityAggregator{minSeverity: minSeverity}
	a.window = newWindow(cfg, a.summarize)
	return a
}

func (a *SeverityAggregator) summarize(buffer []*event.Event, now time.Time) []*event.Event {
	var severe []*event.Event
	for _, e := range buffer {
		if e.Severity.AtLeast(a.minSeverity) {
			severe = append(severe, e)
		}
	}
	if len(severe) < a.cfg.Threshold {
		return nil
	}

	levels, types := newTally(), newTally()
	subjects := make(map[string]struct{})
	for _, e := range severe {
		levels.add(e.Severity.String())
		types.add(string(e.Type))
		if e.HasSubject() {
			subjects[e.Subject] = struct{}{}
		}
	}

	out, err := processor.NewComposite(a.cfg.Name, a.cfg.Source, now,
		fmt.Sprintf("%d events at or above %s in %s window", len(severe), a.minSeverity, a.cfg.Window),
		ids(severe), []string{"aggregated", "severity"},
		event.WithSeverity(event.Critical),
		event.WithData(map[string]any{
			"count":          len(severe),
			"min_severity":   a.minSeverity.String(),
			"window_seconds": a.cfg.Window.Seconds(),
			"severities":     levels.asData(),
			"types":          types.asData(),
			"subjects":       sortedKeys(subjects),
		}),
	)
	if err != nil {
		return nil
	}
	return []*event.Event{out}
}
