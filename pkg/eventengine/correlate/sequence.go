package correlate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

// ErrEmptySequence is returned when a SequenceCorrelator has no steps.
var ErrEmptySequence = errors.New("sequence is empty")

// SequenceOption configures a SequenceCorrelator.
type SequenceOption func(*SequenceCorrelator)

// Silent completes and resets sequences without emitting events.
func Silent() SequenceOption {
	return func(s *SequenceCorrelator) {
		s.generate = false
	}
}

// SequenceCorrelator tracks progress through an ordered list of event types.
// A matching event extends the attempt, a mismatch resets it unless the event
// starts a new attempt, and an attempt older than the window expires.
// Completing the sequence emits one composite carrying the matched ids.
type SequenceCorrelator struct {
	*core
	sequence []event.Type
	generate bool

	progress  []*event.Event
	started   time.Time
	completed int
}

var _ processor.Stage = (*SequenceCorrelator)(nil)

// NewSequenceCorrelator creates a SequenceCorrelator.
func NewSequenceCorrelator(cfg Config, sequence []event.Type, opts ...SequenceOption) (*SequenceCorrelator, error) {
	if len(sequence) == 0 {
		return nil, ErrEmptySequence
	}
	s := &SequenceCorrelator{core: newCore(cfg), sequence: sequence, generate: true}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Process implements processor.Stage.
func (s *SequenceCorrelator) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	if s.own(evt) {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock.Now()
	s.buffer.add(evt, now)

	if len(s.progress) > 0 && now.Sub(s.started) > s.cfg.Window {
		s.progress = nil
	}

	switch {
	case evt.Type == s.sequence[len(s.progress)]:
		if len(s.progress) == 0 {
			s.started = now
		}
		s.progress = append(s.progress, evt)
	case evt.Type == s.sequence[0]:
		s.progress = []*event.Event{evt}
		s.started = now
	default:
		s.progress = nil
		return nil, nil
	}

	if len(s.progress) < len(s.sequence) {
		return nil, nil
	}

	matched := s.progress
	elapsed := now.Sub(s.started)
	s.progress = nil
	s.completed++

	if !s.generate {
		return nil, nil
	}

	steps := make([]string, len(s.sequence))
	for i, t := range s.sequence {
		steps[i] = string(t)
	}
	out, err := processor.NewComposite(s.cfg.Name, s.cfg.Source, now,
		fmt.Sprintf("sequence %s completed in %s", strings.Join(steps, " -> "), elapsed),
		idsOf(matched), []string{"correlated", "sequence"},
		event.WithSubject(matched[len(matched)-1].Subject),
		event.WithData(map[string]any{
			"sequence":        steps,
			"elapsed_seconds": elapsed.Seconds(),
			"event_ids":       idsOf(matched),
		}),
	)
	if err != nil {
		return nil, err
	}
	return []*event.Event{out}, nil
}

// Progress returns how many steps of the current attempt have matched.
func (s *SequenceCorrelator) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.progress)
}

// Completed returns how many sequences have completed.
func (s *SequenceCorrelator) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}
