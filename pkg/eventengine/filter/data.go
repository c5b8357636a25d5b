package filter

import (
	"context"
	"reflect"
	"sort"

	"github.com/spf13/cast"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// Expectation is a condition on one payload value.
type Expectation interface {
	Holds(v any) bool
}

type equals struct{ want any }

func (e equals) Holds(v any) bool { return valuesEqual(v, e.want) }

// Equals expects the value to equal want. Numbers compare by value across
// numeric types, so 580 equals 580.0.
func Equals(want any) Expectation { return equals{want: want} }

type oneOf struct{ set []any }

func (o oneOf) Holds(v any) bool {
	for _, want := range o.set {
		if valuesEqual(v, want) {
			return true
		}
	}
	return false
}

// OneOf expects the value to equal any member of set.
func OneOf(set ...any) Expectation { return oneOf{set: set} }

type contains struct{ sub map[string]any }

func (c contains) Holds(v any) bool {
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return false
	}
	for k, want := range c.sub {
		got, ok := m[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// Contains expects the value to be a map holding every key of sub with an
// equal value.
func Contains(sub map[string]any) Expectation { return contains{sub: sub} }

// Predicate adapts a function to an Expectation.
type Predicate func(v any) bool

// Holds implements Expectation.
func (p Predicate) Holds(v any) bool { return p(v) }

// DataFilter passes events whose payload satisfies every condition. A
// missing key fails the filter.
type DataFilter struct {
	base
	keys       []string
	conditions map[string]Expectation
}

// NewDataFilter creates a DataFilter. Plain values are turned into
// expectations: a slice becomes OneOf, a map becomes Contains, a
// func(any) bool becomes a Predicate and anything else becomes Equals.
func NewDataFilter(name string, conditions map[string]any, types ...event.Type) *DataFilter {
	f := &DataFilter{
		base:       base{name: name, types: types},
		conditions: make(map[string]Expectation, len(conditions)),
	}
	for key, c := range conditions {
		f.conditions[key] = expectationOf(c)
		f.keys = append(f.keys, key)
	}
	sort.Strings(f.keys)
	return f
}

func expectationOf(c any) Expectation {
	switch v := c.(type) {
	case Expectation:
		return v
	case func(any) bool:
		return Predicate(v)
	case map[string]any:
		return Contains(v)
	case []any:
		return OneOf(v...)
	case []string:
		set := make([]any, len(v))
		for i, s := range v {
			set[i] = s
		}
		return OneOf(set...)
	default:
		return Equals(v)
	}
}

// Matches implements Filter.
func (f *DataFilter) Matches(evt *event.Event) bool {
	for _, key := range f.keys {
		v, ok := evt.Data[key]
		if !ok || !f.conditions[key].Holds(v) {
			return false
		}
	}
	return true
}

// Process implements processor.Stage.
func (f *DataFilter) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	return pass(f, evt)
}

// valuesEqual compares payload values, numerically when both sides are
// numbers.
func valuesEqual(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		return cast.ToFloat64(a) == cast.ToFloat64(b)
	}
	return reflect.DeepEqual(a, b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}
