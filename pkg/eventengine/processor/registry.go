package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateName is returned when a runner with the same name is registered.
var ErrDuplicateName = errors.New("processor already registered")

// RegistryStats aggregates the counters of every registered runner.
type RegistryStats struct {
	Total         int
	Running       int
	Processed     uint64
	Errors        uint64
	Emitted       uint64
	PublishErrors uint64
	Processors    map[string]Stats
}

// Registry is a thread-safe named collection of runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]*Runner
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]*Runner)}
}

// Register adds r under its stage name.
func (g *Registry) Register(r *Runner) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := r.Name()
	if _, exists := g.runners[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	g.runners[name] = r
	g.order = append(g.order, name)
	return nil
}

// Unregister removes the named runner, stopping it first if it is running.
// Returns whether a runner was removed.
func (g *Registry) Unregister(name string) bool {
	g.mu.Lock()
	r, ok := g.runners[name]
	if ok {
		delete(g.runners, name)
		for i, n := range g.order {
			if n == name {
				g.order = append(g.order[:i], g.order[i+1:]...)
				break
			}
		}
	}
	g.mu.Unlock()

	if ok && r.Running() {
		_ = r.Stop()
	}
	return ok
}

// Get returns the named runner.
func (g *Registry) Get(name string) (*Runner, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runners[name]
	return r, ok
}

// Names returns runner names in registration order.
func (g *Registry) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// Len returns the number of registered runners.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.runners)
}

// snapshot returns the runners in registration order without holding the
// lock during callbacks.
func (g *Registry) snapshot() []*Runner {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Runner, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.runners[name])
	}
	return out
}

// StartAll starts every runner. Failures do not stop the remaining runners
// from starting; they are returned joined.
func (g *Registry) StartAll(ctx context.Context) error {
	var errs []error
	for _, r := range g.snapshot() {
		if err := r.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every runner in reverse registration order.
func (g *Registry) StopAll() error {
	runners := g.snapshot()
	var errs []error
	for i := len(runners) - 1; i >= 0; i-- {
		if err := runners[i].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats aggregates every runner's counters.
func (g *Registry) Stats() RegistryStats {
	runners := g.snapshot()
	stats := RegistryStats{
		Total:      len(runners),
		Processors: make(map[string]Stats, len(runners)),
	}
	for _, r := range runners {
		s := r.Stats()
		stats.Processors[s.Name] = s
		if s.Running {
			stats.Running++
		}
		stats.Processed += s.Processed
		stats.Errors += s.Errors
		stats.Emitted += s.Emitted
		stats.PublishErrors += s.PublishErrors
	}
	return stats
}
