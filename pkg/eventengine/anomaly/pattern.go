package anomaly

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

// ErrInvalidPattern is returned for a pattern size below one or a rarity
// outside (0, 1).
var ErrInvalidPattern = errors.New("invalid pattern settings")

// PatternDetector tracks n-grams over the stream of event types. After ten
// n-grams have been observed, one whose relative frequency is below the
// rarity cutoff is flagged.
type PatternDetector struct {
	base
	size   int
	rarity float64

	mu       sync.Mutex
	recent   []*event.Event
	counts   map[string]int
	observed int
}

var _ processor.Stage = (*PatternDetector)(nil)

// NewPatternDetector creates a PatternDetector over n-grams of size events.
// Zero values select DefaultPatternSize and DefaultRarity.
func NewPatternDetector(cfg Config, size int, rarity float64) (*PatternDetector, error) {
	if size == 0 {
		size = DefaultPatternSize
	}
	if rarity == 0 {
		rarity = DefaultRarity
	}
	if size < 1 || size > patternBuffer || rarity <= 0 || rarity >= 1 {
		return nil, fmt.Errorf("%w: size=%d rarity=%g", ErrInvalidPattern, size, rarity)
	}
	return &PatternDetector{
		base:   base{cfg: cfg.withDefaults()},
		size:   size,
		rarity: rarity,
		counts: make(map[string]int),
	}, nil
}

// Process implements processor.Stage.
func (d *PatternDetector) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	if d.own(evt) {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.recent = push(d.recent, evt, patternBuffer)
	if len(d.recent) < d.size {
		return nil, nil
	}

	gram := d.recent[len(d.recent)-d.size:]
	steps := make([]string, len(gram))
	for i, e := range gram {
		steps[i] = string(e.Type)
	}
	key := strings.Join(steps, ",")
	d.counts[key]++
	d.observed++

	if d.observed < patternMinObserved {
		return nil, nil
	}
	freq := float64(d.counts[key]) / float64(d.observed)
	if freq <= 0 || freq >= d.rarity {
		return nil, nil
	}

	related := make([]string, len(gram))
	for i, e := range gram {
		related[i] = e.ID
	}
	out, err := d.emit(d.cfg.Clock.Now(),
		fmt.Sprintf("rare pattern %s (%.4f of %d)", strings.Join(steps, " -> "), freq, d.observed),
		related, []string{"pattern"},
		event.WithSubject(evt.Subject),
		event.WithData(map[string]any{
			"pattern":   steps,
			"count":     d.counts[key],
			"observed":  d.observed,
			"frequency": freq,
		}),
	)
	if err != nil {
		return nil, err
	}
	return []*event.Event{out}, nil
}

// Observed returns the number of n-grams seen.
func (d *PatternDetector) Observed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.observed
}
