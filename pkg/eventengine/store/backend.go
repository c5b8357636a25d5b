package store

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("event not found")
	ErrClosed   = errors.New("store is closed")
)

// DefaultLimit is the page size used when a Query leaves Limit unset.
const DefaultLimit = 100

// Backend persists events. Implementations must be safe for concurrent use.
type Backend interface {
	// Put inserts evt, replacing any stored event with the same id.
	Put(ctx context.Context, evt *event.Event) error

	// Get returns the event with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*event.Event, error)

	// Query returns matching events, newest first.
	Query(ctx context.Context, q Query) ([]*event.Event, error)

	// Stats summarizes the stored events.
	Stats(ctx context.Context) (BackendStats, error)

	// Trim deletes all but the newest keep events and reports how many were removed.
	Trim(ctx context.Context, keep int) (int, error)

	// Close releases resources. Safe to call multiple times.
	Close() error
}

// Query selects stored events. Every set field narrows the result.
type Query struct {
	// Types keeps events whose type is in the list.
	Types []event.Type

	// Sources keeps events whose source is in the list.
	Sources []event.Source

	// Start and End bound the timestamp, inclusive. Zero means unbounded.
	Start time.Time
	End   time.Time

	// MinSeverity keeps events at or above this rank.
	MinSeverity event.Severity

	// Subject keeps events with exactly this subject.
	Subject string

	// Limit caps the page size. Default: DefaultLimit.
	Limit int

	// Offset skips that many matching events.
	Offset int
}

func (q Query) normalized() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Matches reports whether evt satisfies every filter of q. Paging is ignored.
func (q Query) Matches(evt *event.Event) bool {
	if len(q.Types) > 0 && !slices.Contains(q.Types, evt.Type) {
		return false
	}
	if len(q.Sources) > 0 && !slices.Contains(q.Sources, evt.Source) {
		return false
	}
	if !q.Start.IsZero() && evt.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && evt.Timestamp.After(q.End) {
		return false
	}
	if !evt.Severity.AtLeast(q.MinSeverity) {
		return false
	}
	if q.Subject != "" && evt.Subject != q.Subject {
		return false
	}
	return true
}

// BackendStats summarizes stored events.
type BackendStats struct {
	Total      int
	ByType     map[string]int
	BySource   map[string]int
	BySeverity map[string]int
	Latest     time.Time
}

func newBackendStats() BackendStats {
	return BackendStats{
		ByType:     make(map[string]int),
		BySource:   make(map[string]int),
		BySeverity: make(map[string]int),
	}
}

func (s *BackendStats) add(evt *event.Event) {
	s.Total++
	s.ByType[evt.Type.String()]++
	s.BySource[evt.Source.String()]++
	s.BySeverity[evt.Severity.String()]++
	if evt.Timestamp.After(s.Latest) {
		s.Latest = evt.Timestamp
	}
}

// sortNewestFirst orders by timestamp descending, then id ascending.
func sortNewestFirst(events []*event.Event) {
	slices.SortFunc(events, func(a, b *event.Event) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// page applies offset and limit to an already sorted slice.
func page(events []*event.Event, q Query) []*event.Event {
	if q.Offset >= len(events) {
		return []*event.Event{}
	}
	events = events[q.Offset:]
	if len(events) > q.Limit {
		events = events[:q.Limit]
	}
	return events
}
