// Package processor defines the contract every pipeline stage implements and
// the machinery that connects stages to the bus.
//
// A Stage turns one event into zero or more events. A Runner subscribes a
// stage to the bus and re-publishes whatever it returns, which is how
// pipelines compose: a filter's pass-through, an aggregator's summary and a
// detector's anomaly all re-enter the bus like any producer event.
//
//	r := processor.NewRunner(b, aggregate.NewSubjectAggregator(cfg))
//	_ = r.Start(ctx)
//	defer r.Stop()
package processor

import (
	"context"
	"slices"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// Stage processes events.
type Stage interface {
	// Name identifies the stage in logs, metrics and the registry.
	Name() string

	// Types restricts the event types the stage receives. Nil means all.
	Types() []event.Type

	// Process handles one event and returns derived events, if any.
	Process(ctx context.Context, evt *event.Event) ([]*event.Event, error)
}

// Lifecycle is implemented by stages that hold resources between events.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
}

// Flusher is implemented by windowed stages that can close a window without
// a new event arriving.
type Flusher interface {
	Flush(ctx context.Context) ([]*event.Event, error)
}

// Accepts reports whether s wants events of type t.
func Accepts(s Stage, t event.Type) bool {
	types := s.Types()
	return len(types) == 0 || slices.Contains(types, t)
}

// ProcessFunc adapts a function to the Process method.
type ProcessFunc func(ctx context.Context, evt *event.Event) ([]*event.Event, error)

type funcStage struct {
	name  string
	types []event.Type
	fn    ProcessFunc
}

// NewFunc builds a stateless Stage from a function.
func NewFunc(name string, types []event.Type, fn ProcessFunc) Stage {
	return &funcStage{name: name, types: types, fn: fn}
}

func (f *funcStage) Name() string        { return f.name }
func (f *funcStage) Types() []event.Type { return f.types }

func (f *funcStage) Process(ctx context.Context, evt *event.Event) ([]*event.Event, error) {
	return f.fn(ctx, evt)
}

// unionTypes merges the type restrictions of stages. Any unrestricted child
// makes the union unrestricted.
func unionTypes(stages []Stage) []event.Type {
	var out []event.Type
	for _, s := range stages {
		types := s.Types()
		if len(types) == 0 {
			return nil
		}
		for _, t := range types {
			if !slices.Contains(out, t) {
				out = append(out, t)
			}
		}
	}
	return out
}
