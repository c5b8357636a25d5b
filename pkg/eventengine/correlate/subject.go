package correlate

import (
	"context"
	"fmt"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

// SubjectCorrelator emits one composite for a subject once its bucket holds
// Threshold events and at least Window has passed since that subject last
// correlated. The bucket and cooldown then reset.
type SubjectCorrelator struct {
	*core
	buckets map[string]*recent
	last    map[string]time.Time
	swept   time.Time
}

var _ processor.Stage = (*SubjectCorrelator)(nil)

// NewSubjectCorrelator creates a SubjectCorrelator. Default threshold: 5.
func NewSubjectCorrelator(cfg Config) *SubjectCorrelator {
	return &SubjectCorrelator{
		core:    newCore(cfg),
		buckets: make(map[string]*recent),
		last:    make(map[string]time.Time),
	}
}

// Process implements processor.Stage. Events without a subject are only
// buffered.
func (s *SubjectCorrelator) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	if s.own(evt) {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock.Now()
	s.buffer.add(evt, now)
	if now.Sub(s.swept) >= s.cfg.Window {
		s.sweep(now)
	}
	if !evt.HasSubject() {
		return nil, nil
	}

	bucket, ok := s.buckets[evt.Subject]
	if !ok {
		bucket = &recent{window: s.cfg.Window, size: s.cfg.BufferSize}
		s.buckets[evt.Subject] = bucket
	}
	bucket.add(evt, now)

	if len(bucket.entries) < s.cfg.Threshold {
		return nil, nil
	}
	if last, seen := s.last[evt.Subject]; seen && now.Sub(last) < s.cfg.Window {
		return nil, nil
	}

	group := bucket.events()
	delete(s.buckets, evt.Subject)
	s.last[evt.Subject] = now

	types, sources := newTally(), newTally()
	maxSeverity := event.Debug
	for _, e := range group {
		types.add(string(e.Type))
		sources.add(string(e.Source))
		maxSeverity = max(maxSeverity, e.Severity)
	}

	out, err := processor.NewComposite(s.cfg.Name, s.cfg.Source, now,
		fmt.Sprintf("%d correlated events for %s", len(group), evt.Subject),
		idsOf(group), []string{"correlated", "subject"},
		event.WithSubject(evt.Subject),
		event.WithData(map[string]any{
			"count":           len(group),
			"dominant_type":   types.top(),
			"dominant_source": sources.top(),
			"max_severity":    maxSeverity.String(),
		}),
	)
	if err != nil {
		return nil, err
	}
	return []*event.Event{out}, nil
}

// sweep forgets subjects whose buckets have emptied and whose cooldown has
// passed. Callers hold s.mu.
func (s *SubjectCorrelator) sweep(now time.Time) {
	for subject, bucket := range s.buckets {
		bucket.prune(now)
		if len(bucket.entries) == 0 {
			delete(s.buckets, subject)
		}
	}
	for subject, at := range s.last {
		if now.Sub(at) >= s.cfg.Window {
			delete(s.last, subject)
		}
	}
	s.swept = now
}

// Subjects returns how many subjects currently hold a bucket or a cooldown.
func (s *SubjectCorrelator) Subjects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.buckets)
	for subject := range s.last {
		if _, ok := s.buckets[subject]; !ok {
			n++
		}
	}
	return n
}

// tally counts keys; ties go to the key seen first.
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

func (t *tally) top() string {
	best := ""
	for _, k := range t.order {
		if best == "" || t.counts[k] > t.counts[best] {
			best = k
		}
	}
	return best
}
