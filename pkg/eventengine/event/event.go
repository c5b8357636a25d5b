// Package event defines the Event record that flows through the engine,
// its closed type/source/severity enumerations, and its JSON form.
//
// Events are immutable once published: processors derive new events instead
// of editing the ones they receive, and use Clone when they need a copy.
package event

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// MaxRelated caps the lineage carried by a composite event.
const MaxRelated = 10

// Event is the unit of communication between producers, the bus, processors
// and the store.
type Event struct {
	ID            string         `json:"id"`
	Type          Type           `json:"event_type"`
	Source        Source         `json:"source"`
	Severity      Severity       `json:"severity"`
	Timestamp     time.Time      `json:"timestamp"`
	Subject       string         `json:"subject,omitempty"`
	Message       string         `json:"message,omitempty"`
	Data          map[string]any `json:"data"`
	Tags          []string       `json:"tags"`
	RelatedEvents []string       `json:"related_events"`
	Processed     bool           `json:"processed"`
}

// Option configures event creation.
type Option func(*Event)

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) Option {
	return func(e *Event) {
		e.ID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(e *Event) {
		e.Timestamp = normalizeTime(t)
	}
}

// WithSeverity sets the severity (default: Info).
func WithSeverity(s Severity) Option {
	return func(e *Event) {
		e.Severity = s
	}
}

// WithSubject sets the correlation key, e.g. an instrument symbol.
func WithSubject(subject string) Option {
	return func(e *Event) {
		e.Subject = subject
	}
}

// WithMessage sets the human readable summary.
func WithMessage(msg string) Option {
	return func(e *Event) {
		e.Message = msg
	}
}

// WithData sets the payload. The map is copied.
func WithData(data map[string]any) Option {
	return func(e *Event) {
		e.Data = maps.Clone(data)
	}
}

// WithField sets a single payload entry.
func WithField(key string, value any) Option {
	return func(e *Event) {
		if e.Data == nil {
			e.Data = make(map[string]any)
		}
		e.Data[key] = value
	}
}

// WithTags appends labels.
func WithTags(tags ...string) Option {
	return func(e *Event) {
		e.Tags = append(e.Tags, tags...)
	}
}

// WithRelated appends lineage ids.
func WithRelated(ids ...string) Option {
	return func(e *Event) {
		e.RelatedEvents = append(e.RelatedEvents, ids...)
	}
}

// New creates an event of the given type and source.
func New(t Type, source Source, opts ...Option) *Event {
	e := &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Source:    source,
		Severity:  Info,
		Timestamp: normalizeTime(time.Now()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewComposite creates an event synthesized by a processor. Lineage is
// required and capped at MaxRelated ids. Severity defaults to Warning.
func NewComposite(source Source, message string, related []string, opts ...Option) (*Event, error) {
	if len(related) == 0 {
		return nil, ErrMissingLineage
	}
	if len(related) > MaxRelated {
		related = related[:MaxRelated]
	}

	base := []Option{
		WithSeverity(Warning),
		WithMessage(message),
		WithRelated(related...),
	}
	e := New(Composite, source, append(base, opts...)...)
	if len(e.RelatedEvents) > MaxRelated {
		e.RelatedEvents = e.RelatedEvents[:MaxRelated]
	}
	return e, nil
}

// Validate checks the enumeration and lineage invariants.
func (e *Event) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Err: ErrMissingID}
	}
	if !e.Type.Valid() {
		return &ValidationError{EventID: e.ID, Field: "event_type", Err: fmt.Errorf("%w: %q", ErrInvalidType, string(e.Type))}
	}
	if !e.Source.Valid() {
		return &ValidationError{EventID: e.ID, Field: "source", Err: fmt.Errorf("%w: %q", ErrInvalidSource, string(e.Source))}
	}
	if !e.Severity.Valid() {
		return &ValidationError{EventID: e.ID, Field: "severity", Err: fmt.Errorf("%w: %d", ErrInvalidSeverity, int(e.Severity))}
	}
	if e.Type == Composite && len(e.RelatedEvents) == 0 {
		return &ValidationError{EventID: e.ID, Field: "related_events", Err: ErrMissingLineage}
	}
	return nil
}

// IsComposite reports whether the event was synthesized by a processor.
func (e *Event) IsComposite() bool {
	return e.Type == Composite
}

// HasSubject reports whether the event is scoped to a subject rather than
// the whole system.
func (e *Event) HasSubject() bool {
	return e.Subject != ""
}

// Clone returns a deep copy. Nested maps and slices in Data are copied;
// other payload values are shared.
func (e *Event) Clone() *Event {
	c := *e
	c.Data = cloneData(e.Data)
	c.Tags = slices.Clone(e.Tags)
	c.RelatedEvents = slices.Clone(e.RelatedEvents)
	return &c
}

// WithProcessed returns a copy marked as processed.
func (e *Event) WithProcessed() *Event {
	c := e.Clone()
	c.Processed = true
	return c
}

// String returns a short description for logs.
func (e *Event) String() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s[%s/%s %s %s]", e.ID, e.Type, e.Source, e.Severity, e.Subject)
	}
	return fmt.Sprintf("%s[%s/%s %s]", e.ID, e.Type, e.Source, e.Severity)
}

// Marshal serializes the event to its JSON record form.
func Marshal(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a record produced by Marshal. Records that are not JSON
// or that fail Validate are rejected as a whole with an error wrapping
// ErrMalformed.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	e.Timestamp = normalizeTime(e.Timestamp)
	return &e, nil
}

// normalizeTime drops the monotonic reading and pins the location to UTC so
// that an event compares equal to its decoded record.
func normalizeTime(t time.Time) time.Time {
	return t.Round(0).UTC()
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneData(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(val)
	default:
		return v
	}
}
