package anomaly

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/spf13/cast"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

// ErrMissingField is returned when a ValueDetector has no field to watch.
var ErrMissingField = errors.New("value detector requires a field")

// unknownSubject keys values from events without a subject.
const unknownSubject = "unknown"

// ValueDetector keeps the last hundred values of data[Field] per subject.
// Once ten values are known, the newest is scored against the values before
// it and flagged when |z| exceeds the threshold.
type ValueDetector struct {
	base
	field string

	mu      sync.Mutex
	history map[string][]float64
}

var _ processor.Stage = (*ValueDetector)(nil)

// NewValueDetector creates a ValueDetector over data[field].
func NewValueDetector(cfg Config, field string) (*ValueDetector, error) {
	if field == "" {
		return nil, ErrMissingField
	}
	return &ValueDetector{
		base:    base{cfg: cfg.withDefaults()},
		field:   field,
		history: make(map[string][]float64),
	}, nil
}

// Process implements processor.Stage. Events without a numeric value are
// ignored.
func (d *ValueDetector) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	if d.own(evt) {
		return nil, nil
	}
	v, ok := numeric(evt.Data[d.field])
	if !ok {
		return nil, nil
	}
	subject := evt.Subject
	if subject == "" {
		subject = unknownSubject
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	values := push(d.history[subject], v, valueHistory)
	d.history[subject] = values
	if len(values) < valueMinSamples {
		return nil, nil
	}

	mean, stdev := meanStdev(values[:len(values)-1])
	z := (v - mean) / max(stdev, valueStdevFloor)
	if math.Abs(z) <= d.cfg.Threshold {
		return nil, nil
	}

	out, err := d.emit(d.cfg.Clock.Now(),
		fmt.Sprintf("unusual %s for %s: %g (mean %g, z %.2f)", d.field, subject, v, mean, z),
		[]string{evt.ID}, []string{"value"},
		event.WithSubject(evt.Subject),
		event.WithData(map[string]any{
			"field":   d.field,
			"subject": subject,
			"value":   v,
			"mean":    mean,
			"stdev":   stdev,
			"z_score": z,
		}),
	)
	if err != nil {
		return nil, err
	}
	return []*event.Event{out}, nil
}

// Samples returns the number of values held for subject.
func (d *ValueDetector) Samples(subject string) int {
	if subject == "" {
		subject = unknownSubject
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history[subject])
}

// numeric accepts numbers and numeric strings, never bools.
func numeric(v any) (float64, bool) {
	switch v.(type) {
	case nil, bool:
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
