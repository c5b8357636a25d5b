package processor

import (
	"slices"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

const emitterTagPrefix = "emitter="

// EmitterTag is the tag carried by events a stage synthesizes.
func EmitterTag(stage string) string {
	return emitterTagPrefix + stage
}

// EmittedBy reports whether evt was synthesized by the named stage. Stateful
// stages use it to ignore their own outputs when they come back through the
// bus.
func EmittedBy(evt *event.Event, stage string) bool {
	return slices.Contains(evt.Tags, EmitterTag(stage))
}

// NewComposite builds a composite event on behalf of a stage: it carries the
// emitter tag plus tags, is timestamped at now and defaults to Warning.
func NewComposite(stage string, source event.Source, now time.Time, message string,
	related []string, tags []string, opts ...event.Option) (*event.Event, error) {
	base := []event.Option{
		event.WithTimestamp(now),
		event.WithTags(append([]string{EmitterTag(stage)}, tags...)...),
	}
	return event.NewComposite(source, message, related, append(base, opts...)...)
}

// Clock returns the current time. Stages take one so tests can drive windows.
type Clock func() time.Time

// Now returns c(), or time.Now() when c is nil.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
