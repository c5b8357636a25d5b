// Package pipeline builds processor stages from declarative definitions,
// usually the processors list of an engine config file:
//
//	processors:
//	  - name: tsmc-moves
//	    kind: subject_aggregator
//	    types: [price_change]
//	    window: 60s
//	    threshold: 5
//	  - name: order-flow
//	    kind: sequence_correlator
//	    sequence: [order_created, order_submitted, order_filled]
//
// Every definition has a name and a kind. The kind selects a Factory; the
// remaining keys are read by that factory. chain, composite and
// composite_filter nest further definitions under stages or filters.
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/randalmurphal/eventengine/pkg/eventengine/config"
	"github.com/randalmurphal/eventengine/pkg/eventengine/filter"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

// Errors returned by Build.
var (
	ErrUnknownKind = errors.New("unknown processor kind")
	ErrMissingName = errors.New("processor name is required")
	ErrInvalid     = errors.New("invalid processor definition")
)

// Factory creates a stage from its definition. Nested definitions are built
// through b so they share its options.
type Factory func(b *Builder, def config.Config) (processor.Stage, error)

// Option configures a Builder.
type Option func(*Builder)

// WithClock sets the clock handed to windowed stages. Default: time.Now.
func WithClock(clock processor.Clock) Option {
	return func(b *Builder) {
		b.clock = clock
	}
}

// WithKind registers an additional kind, replacing a built-in of the same
// name.
func WithKind(kind string, f Factory) Option {
	return func(b *Builder) {
		b.factories[kind] = f
	}
}

// WithExprOperator adds a binary operator to every expression the builder
// compiles, for expr_filter and rule_correlator rules.
func WithExprOperator(name string, fn filter.BinaryOp) Option {
	return func(b *Builder) {
		b.exprOpts = append(b.exprOpts, filter.WithOperator(name, fn))
	}
}

// Builder turns definitions into stages.
type Builder struct {
	mu        sync.RWMutex
	factories map[string]Factory
	clock     processor.Clock
	exprOpts  []filter.ExprOption
}

// NewBuilder creates a Builder with every built-in kind registered.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{factories: builtins()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds or replaces the factory for kind.
func (b *Builder) Register(kind string, f Factory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.factories[kind] = f
}

// Kinds returns the registered kinds, sorted.
func (b *Builder) Kinds() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	kinds := make([]string, 0, len(b.factories))
	for k := range b.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Clock returns the clock handed to windowed stages.
func (b *Builder) Clock() processor.Clock { return b.clock }

// Build creates one stage per definition, in order. Top-level names must be
// unique because each becomes a processor.Runner.
func (b *Builder) Build(defs []config.Config) ([]processor.Stage, error) {
	stages := make([]processor.Stage, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for i, def := range defs {
		s, err := b.BuildOne(def)
		if err != nil {
			return nil, fmt.Errorf("processor %d: %w", i, err)
		}
		if seen[s.Name()] {
			return nil, fmt.Errorf("processor %d: %w: %s", i, processor.ErrDuplicateName, s.Name())
		}
		seen[s.Name()] = true
		stages = append(stages, s)
	}
	return stages, nil
}

// BuildOne creates the stage for a single definition.
func (b *Builder) BuildOne(def config.Config) (processor.Stage, error) {
	name := def.String("name", "")
	if name == "" {
		return nil, ErrMissingName
	}
	kind := def.String("kind", "")

	b.mu.RLock()
	f, ok := b.factories[kind]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w %q", name, ErrUnknownKind, kind)
	}

	s, err := f(b, def)
	if err != nil {
		return nil, fmt.Errorf("%s (%s): %w", name, kind, err)
	}
	return s, nil
}

// Build is NewBuilder(opts...).Build(defs).
func Build(defs []config.Config, opts ...Option) ([]processor.Stage, error) {
	return NewBuilder(opts...).Build(defs)
}
