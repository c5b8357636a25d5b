// Package store persists every event that crosses the bus and answers
// queries over the history.
//
// The Store subscribes to the bus as a wildcard Async subscriber and writes a
// processed copy of each event to a Backend. Write failures are logged and
// counted but never propagated to the bus. Every TrimEvery-th write the
// oldest events beyond MaxEvents are deleted.
//
// Backends:
//   - SQLiteBackend: durable, single-process (default)
//   - MemoryBackend: ephemeral, for tests
//   - RedisBackend: shared across processes
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/bus"
	engerrors "github.com/randalmurphal/eventengine/pkg/eventengine/errors"
	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/observability"
)

// Defaults for retention.
const (
	DefaultMaxEvents = 100000
	DefaultTrimEvery = 1000
)

// SubscriberName is the name the store registers on the bus.
const SubscriberName = "event-store"

// Option configures a Store.
type Option func(*Store)

// WithMaxEvents sets the retention cap. Default: DefaultMaxEvents.
func WithMaxEvents(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEvents.Store(int64(n))
		}
	}
}

// WithTrimEvery sets how many writes happen between retention sweeps.
// Default: DefaultTrimEvery.
func WithTrimEvery(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.trimEvery = uint64(n)
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Stats summarizes the store.
type Stats struct {
	BackendStats

	Running   bool
	MaxEvents int
	Written   uint64
	Errors    uint64
	Trimmed   uint64
}

// Store records bus traffic into a Backend.
type Store struct {
	bus     bus.Subscriber
	backend Backend
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	mu  sync.Mutex
	sub *bus.Subscription

	maxEvents atomic.Int64
	trimEvery uint64

	written atomic.Uint64
	errors  atomic.Uint64
	trimmed atomic.Uint64
}

// New creates a stopped Store over backend.
func New(b bus.Subscriber, backend Backend, opts ...Option) *Store {
	s := &Store{
		bus:       b,
		backend:   backend,
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
		trimEvery: DefaultTrimEvery,
	}
	s.maxEvents.Store(DefaultMaxEvents)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.EnrichLogger(s.logger, "store")
	return s
}

// Start subscribes to every event. Calling Start twice does nothing.
func (s *Store) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		return nil
	}
	sub, err := s.bus.Subscribe(bus.Wildcard, s.handle, bus.Async, bus.WithName(SubscriberName))
	if err != nil {
		return fmt.Errorf("subscribe store: %w", err)
	}
	s.sub = sub
	observability.LogLifecycle(s.logger, "started", slog.Int("max_events", s.MaxEvents()))
	return nil
}

// Stop unsubscribes. Calling Stop on a stopped store does nothing.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub == nil {
		return
	}
	s.bus.Unsubscribe(s.sub)
	s.sub = nil
	observability.LogLifecycle(s.logger, "stopped")
}

// Close stops the store and closes the backend.
func (s *Store) Close() error {
	s.Stop()
	return s.backend.Close()
}

// Running reports whether the store is subscribed.
func (s *Store) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil
}

// handle is the bus callback. Failures stay inside the store.
func (s *Store) handle(ctx context.Context, evt *event.Event) error {
	_ = s.Record(ctx, evt)
	return nil
}

// Record writes a processed copy of evt and runs retention when due.
func (s *Store) Record(ctx context.Context, evt *event.Event) error {
	start := time.Now()
	err := s.backend.Put(ctx, evt.WithProcessed())
	s.metrics.RecordStoreWrite(ctx, time.Since(start), err)

	if err != nil {
		s.errors.Add(1)
		observability.LogStoreError(s.logger, "put", evt.ID, err)
		return err
	}

	if n := s.written.Add(1); n%s.trimEvery == 0 {
		s.trim(ctx)
	}
	return nil
}

func (s *Store) trim(ctx context.Context) {
	keep := s.MaxEvents()
	removed, err := s.backend.Trim(ctx, keep)
	if err != nil {
		s.errors.Add(1)
		observability.LogStoreError(s.logger, "trim", "", err)
		return
	}
	if removed > 0 {
		s.trimmed.Add(uint64(removed))
		observability.LogRetention(s.logger, removed, keep)
	}
}

// GetByID returns the stored event, or an error wrapping ErrNotFound when it
// is absent or its record cannot be decoded.
func (s *Store) GetByID(ctx context.Context, id string) (*event.Event, error) {
	evt, err := s.backend.Get(ctx, id)
	if err == nil {
		return evt, nil
	}

	var decErr *engerrors.DeserializationError
	if errors.As(err, &decErr) {
		observability.LogStoreError(s.logger, "get", id, err)
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return nil, err
}

// Query returns matching events newest first. On failure it returns an empty
// slice together with the error.
func (s *Store) Query(ctx context.Context, q Query) ([]*event.Event, error) {
	events, err := s.backend.Query(ctx, q)
	if err != nil {
		observability.LogStoreError(s.logger, "query", "", err)
		return []*event.Event{}, err
	}
	return events, nil
}

// Stats returns backend statistics plus the store's own counters.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	bs, err := s.backend.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		BackendStats: bs,
		Running:      s.Running(),
		MaxEvents:    s.MaxEvents(),
		Written:      s.written.Load(),
		Errors:       s.errors.Load(),
		Trimmed:      s.trimmed.Load(),
	}, nil
}

// MaxEvents returns the current retention cap.
func (s *Store) MaxEvents() int {
	return int(s.maxEvents.Load())
}

// SetMaxEvents changes the retention cap. The next sweep applies it.
func (s *Store) SetMaxEvents(n int) {
	if n <= 0 {
		return
	}
	if old := s.maxEvents.Swap(int64(n)); old != int64(n) {
		s.logger.Info("retention changed", slog.Int("from", int(old)), slog.Int("to", n))
	}
}
