// Package filter provides stateless gates. A Filter passes an event through
// unchanged when it matches and drops it otherwise, so filters work both as
// bus subscribers and as the front stage of a processor.Chain.
package filter

import (
	"context"
	"fmt"
	"regexp"
	"slices"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

// Filter is a Stage whose output is its input or nothing.
type Filter interface {
	processor.Stage
	Matches(evt *event.Event) bool
}

// base carries the name and type restriction shared by every filter.
type base struct {
	name  string
	types []event.Type
}

func (b base) Name() string        { return b.name }
func (b base) Types() []event.Type { return b.types }

func pass(f Filter, evt *event.Event) ([]*event.Event, error) {
	if f.Matches(evt) {
		return []*event.Event{evt}, nil
	}
	return nil, nil
}

// TypeFilter passes events whose type is included and not excluded.
// An empty include list includes every type. Exclusion wins.
type TypeFilter struct {
	base
	include []event.Type
	exclude []event.Type
}

// NewTypeFilter creates a TypeFilter. Its Types are the include list, so a
// runner only subscribes to what can pass.
func NewTypeFilter(name string, include, exclude []event.Type) *TypeFilter {
	return &TypeFilter{
		base:    base{name: name, types: include},
		include: include,
		exclude: exclude,
	}
}

// Matches implements Filter.
func (f *TypeFilter) Matches(evt *event.Event) bool {
	if len(f.include) > 0 && !slices.Contains(f.include, evt.Type) {
		return false
	}
	return !slices.Contains(f.exclude, evt.Type)
}

// Process implements processor.Stage.
func (f *TypeFilter) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	return pass(f, evt)
}

// SeverityFilter passes events at or above a minimum severity.
type SeverityFilter struct {
	base
	minSeverity event.Severity
}

// NewSeverityFilter creates a SeverityFilter.
func NewSeverityFilter(name string, minSeverity event.Severity, types ...event.Type) *SeverityFilter {
	return &SeverityFilter{base: base{name: name, types: types}, minSeverity: minSeverity}
}

// Matches implements Filter.
func (f *SeverityFilter) Matches(evt *event.Event) bool {
	return evt.Severity.AtLeast(f.minSeverity)
}

// Process implements processor.Stage.
func (f *SeverityFilter) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	return pass(f, evt)
}

// SourceFilter passes events whose source is included and not excluded.
// An empty include list includes every source. Exclusion wins.
type SourceFilter struct {
	base
	include []event.Source
	exclude []event.Source
}

// NewSourceFilter creates a SourceFilter.
func NewSourceFilter(name string, include, exclude []event.Source, types ...event.Type) *SourceFilter {
	return &SourceFilter{base: base{name: name, types: types}, include: include, exclude: exclude}
}

// Matches implements Filter.
func (f *SourceFilter) Matches(evt *event.Event) bool {
	if len(f.include) > 0 && !slices.Contains(f.include, evt.Source) {
		return false
	}
	return !slices.Contains(f.exclude, evt.Source)
}

// Process implements processor.Stage.
func (f *SourceFilter) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	return pass(f, evt)
}

// SubjectFilter passes events whose subject equals a pattern or matches it
// as a regular expression anchored at the start. Events without a subject
// never pass.
type SubjectFilter struct {
	base
	literals []string
	patterns []*regexp.Regexp
}

// NewSubjectFilter compiles patterns. An invalid regular expression is an
// error.
func NewSubjectFilter(name string, patterns []string, types ...event.Type) (*SubjectFilter, error) {
	f := &SubjectFilter{base: base{name: name, types: types}, literals: patterns}
	for _, p := range patterns {
		re, err := regexp.Compile(`^(?:` + p + `)`)
		if err != nil {
			return nil, fmt.Errorf("subject pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// Matches implements Filter.
func (f *SubjectFilter) Matches(evt *event.Event) bool {
	if !evt.HasSubject() {
		return false
	}
	if slices.Contains(f.literals, evt.Subject) {
		return true
	}
	for _, re := range f.patterns {
		if re.MatchString(evt.Subject) {
			return true
		}
	}
	return false
}

// Process implements processor.Stage.
func (f *SubjectFilter) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	return pass(f, evt)
}

// CompositeFilter combines filters with AND (requireAll) or OR.
// An empty AND passes everything; an empty OR passes nothing.
type CompositeFilter struct {
	base
	requireAll bool
	filters    []Filter
}

// NewCompositeFilter creates a CompositeFilter. Its Types are the union of
// its children's; any unrestricted child makes it unrestricted.
func NewCompositeFilter(name string, requireAll bool, filters ...Filter) *CompositeFilter {
	var types []event.Type
	for _, f := range filters {
		ft := f.Types()
		if len(ft) == 0 {
			types = nil
			break
		}
		for _, t := range ft {
			if !slices.Contains(types, t) {
				types = append(types, t)
			}
		}
	}
	return &CompositeFilter{base: base{name: name, types: types}, requireAll: requireAll, filters: filters}
}

// Matches implements Filter.
func (f *CompositeFilter) Matches(evt *event.Event) bool {
	for _, child := range f.filters {
		ok := child.Matches(evt)
		if f.requireAll && !ok {
			return false
		}
		if !f.requireAll && ok {
			return true
		}
	}
	return f.requireAll
}

// Process implements processor.Stage.
func (f *CompositeFilter) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	return pass(f, evt)
}
