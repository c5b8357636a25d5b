package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// CompositeStage fans each event out to every child that accepts its type and
// concatenates their outputs.
type CompositeStage struct {
	name     string
	children []Stage
	types    []event.Type
}

var (
	_ Stage     = (*CompositeStage)(nil)
	_ Lifecycle = (*CompositeStage)(nil)
	_ Flusher   = (*CompositeStage)(nil)
)

// Composite creates a fan-out stage. Its types are the union of its
// children's.
func Composite(name string, children ...Stage) *CompositeStage {
	return &CompositeStage{
		name:     name,
		children: children,
		types:    unionTypes(children),
	}
}

// Name implements Stage.
func (c *CompositeStage) Name() string { return c.name }

// Types implements Stage.
func (c *CompositeStage) Types() []event.Type { return c.types }

// Children returns the child stages.
func (c *CompositeStage) Children() []Stage { return c.children }

// Process implements Stage. A failing child does not prevent the others from
// running; outputs of the successful children are returned with the joined
// errors.
func (c *CompositeStage) Process(ctx context.Context, evt *event.Event) ([]*event.Event, error) {
	var (
		out  []*event.Event
		errs []error
	)
	for _, child := range c.children {
		if !Accepts(child, evt.Type) {
			continue
		}
		derived, err := child.Process(ctx, evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", child.Name(), err))
			continue
		}
		out = append(out, derived...)
	}
	return out, errors.Join(errs...)
}

// Start starts every child implementing Lifecycle. On failure the children
// already started are stopped again.
func (c *CompositeStage) Start(ctx context.Context) error {
	return startAll(ctx, c.children)
}

// Stop stops every child implementing Lifecycle.
func (c *CompositeStage) Stop() error {
	return stopAll(c.children)
}

// Flush implements Flusher.
func (c *CompositeStage) Flush(ctx context.Context) ([]*event.Event, error) {
	var (
		out  []*event.Event
		errs []error
	)
	for _, child := range c.children {
		f, ok := child.(Flusher)
		if !ok {
			continue
		}
		derived, err := f.Flush(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", child.Name(), err))
			continue
		}
		out = append(out, derived...)
	}
	return out, errors.Join(errs...)
}

// ChainStage runs stages in sequence: the outputs of one stage are the inputs
// of the next. A filter in front of an aggregator gates what the aggregator
// sees without a round trip through the bus.
type ChainStage struct {
	name   string
	stages []Stage
}

var (
	_ Stage     = (*ChainStage)(nil)
	_ Lifecycle = (*ChainStage)(nil)
	_ Flusher   = (*ChainStage)(nil)
)

// Chain creates a sequential stage. Its types are those of the first stage.
func Chain(name string, stages ...Stage) *ChainStage {
	return &ChainStage{name: name, stages: stages}
}

// Name implements Stage.
func (c *ChainStage) Name() string { return c.name }

// Types implements Stage.
func (c *ChainStage) Types() []event.Type {
	if len(c.stages) == 0 {
		return nil
	}
	return c.stages[0].Types()
}

// Stages returns the stages in order.
func (c *ChainStage) Stages() []Stage { return c.stages }

// Process implements Stage.
func (c *ChainStage) Process(ctx context.Context, evt *event.Event) ([]*event.Event, error) {
	return c.feed(ctx, 0, []*event.Event{evt})
}

// feed pushes events through the stages starting at index from.
func (c *ChainStage) feed(ctx context.Context, from int, events []*event.Event) ([]*event.Event, error) {
	for _, s := range c.stages[from:] {
		if len(events) == 0 {
			return nil, nil
		}
		var next []*event.Event
		for _, evt := range events {
			if !Accepts(s, evt.Type) {
				continue
			}
			derived, err := s.Process(ctx, evt)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", s.Name(), err)
			}
			next = append(next, derived...)
		}
		events = next
	}
	return events, nil
}

// Start implements Lifecycle.
func (c *ChainStage) Start(ctx context.Context) error {
	return startAll(ctx, c.stages)
}

// Stop implements Lifecycle.
func (c *ChainStage) Stop() error {
	return stopAll(c.stages)
}

// Flush flushes each stage in order and feeds what it releases through the
// stages after it.
func (c *ChainStage) Flush(ctx context.Context) ([]*event.Event, error) {
	var (
		out  []*event.Event
		errs []error
	)
	for i, s := range c.stages {
		f, ok := s.(Flusher)
		if !ok {
			continue
		}
		released, err := f.Flush(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		derived, err := c.feed(ctx, i+1, released)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, derived...)
	}
	return out, errors.Join(errs...)
}

func startAll(ctx context.Context, stages []Stage) error {
	for i, s := range stages {
		l, ok := s.(Lifecycle)
		if !ok {
			continue
		}
		if err := l.Start(ctx); err != nil {
			_ = stopAll(stages[:i])
			return fmt.Errorf("start %s: %w", s.Name(), err)
		}
	}
	return nil
}

func stopAll(stages []Stage) error {
	var errs []error
	for _, s := range stages {
		if l, ok := s.(Lifecycle); ok {
			if err := l.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop %s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
