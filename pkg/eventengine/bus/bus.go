// Package bus is the engine's publish/subscribe router.
//
// Producers call Publish, which enqueues the event into a bounded priority
// queue and returns immediately. A single dispatch goroutine pops events in
// priority order (lower first, FIFO within a priority), drops ids it has
// already delivered, and fans each event out to the subscribers of its type
// plus every Wildcard subscriber.
//
// A full queue is the only backpressure signal: Publish fails fast with
// ErrQueueFull and the caller decides whether to retry (see PublishWithRetry).
package bus

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/errors"
	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/observability"
)

// Config configures bus behavior.
type Config struct {
	// QueueSize bounds the priority queue.
	// Default: 10000
	QueueSize int

	// Workers is the number of goroutines running Async callbacks.
	// Default: 4
	Workers int

	// WorkerBuffer bounds the jobs waiting for a worker.
	// Default: 1024
	WorkerBuffer int

	// PollInterval bounds how long the dispatch loop waits on an empty queue
	// before rechecking for shutdown.
	// Default: 100ms
	PollInterval time.Duration

	// StopTimeout bounds how long Stop waits for the dispatch loop.
	// Default: 5s
	StopTimeout time.Duration

	// DedupCapacity bounds the set of delivered ids. When exceeded, the
	// oldest half is forgotten.
	// Default: 10000
	DedupCapacity int

	// Logger receives bus logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics records bus metrics. Default: NoopMetrics.
	Metrics observability.MetricsRecorder

	// Tracer traces dispatches. Default: NoopTracer.
	Tracer observability.Tracer
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	QueueSize:     10000,
	Workers:       4,
	WorkerBuffer:  1024,
	PollInterval:  100 * time.Millisecond,
	StopTimeout:   5 * time.Second,
	DedupCapacity: 10000,
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultConfig.QueueSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultConfig.Workers
	}
	if c.WorkerBuffer <= 0 {
		c.WorkerBuffer = DefaultConfig.WorkerBuffer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultConfig.PollInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultConfig.StopTimeout
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = DefaultConfig.DedupCapacity
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observability.NoopMetrics{}
	}
	if c.Tracer == nil {
		c.Tracer = observability.NoopTracer{}
	}
	return c
}

// Stats is a point-in-time snapshot of the bus.
type Stats struct {
	Running       bool
	QueueSize     int
	QueueCapacity int
	DedupSize     int

	// Published counts events accepted by Publish over the bus lifetime.
	Published  uint64
	Rejected   uint64
	Dispatched uint64
	Duplicates uint64

	// Dropped counts Async callbacks the worker pool could not accept.
	Dropped uint64

	// SubscriberErrors counts failed or panicking callbacks.
	SubscriberErrors uint64

	// Subscribers maps event type to subscriber count. Wildcard
	// subscribers are under "*".
	Subscribers map[string]int

	// Failures maps subscriber name to its failure count.
	Failures map[string]uint64
}

// Bus is an in-process priority event bus.
type Bus struct {
	cfg     Config
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	tracer  observability.Tracer

	mu        sync.Mutex
	queue     priorityQueue
	seq       uint64
	byType    map[event.Type][]*Subscription
	wildcards []*Subscription
	nextSubID uint64

	// seen holds delivered ids; order keeps their insertion order for eviction.
	seen  map[string]struct{}
	order []string

	running bool
	stopCh  chan struct{}
	done    chan struct{}
	pool    *workerPool[task]

	published        uint64
	rejected         uint64
	dispatched       uint64
	duplicates       uint64
	dropped          uint64
	subscriberErrors uint64
	failures         map[string]uint64

	notify chan struct{}
}

var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)

// New creates a stopped bus. Events may be published before Start; they are
// delivered once the dispatch loop runs.
func New(cfg Config) *Bus {
	cfg = cfg.withDefaults()
	return &Bus{
		cfg:      cfg,
		logger:   observability.EnrichLogger(cfg.Logger, "bus"),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		byType:   make(map[event.Type][]*Subscription),
		seen:     make(map[string]struct{}),
		failures: make(map[string]uint64),
		notify:   make(chan struct{}, 1),
	}
}

// Subscribe registers h for events of type t, or for every event when t is
// Wildcard.
func (b *Bus) Subscribe(t event.Type, h Handler, mode Mode, opts ...SubscribeOption) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if !mode.valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int(mode))
	}
	if t != Wildcard && !t.Valid() {
		return nil, fmt.Errorf("subscribe: %w: %q", event.ErrInvalidType, string(t))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	sub := &Subscription{
		id:        b.nextSubID,
		eventType: t,
		mode:      mode,
		handler:   h,
	}
	for _, opt := range opts {
		opt(sub)
	}
	if sub.name == "" {
		sub.name = fmt.Sprintf("sub-%d", sub.id)
	}

	if t == Wildcard {
		b.wildcards = append(b.wildcards, sub)
	} else {
		b.byType[t] = append(b.byType[t], sub)
	}
	return sub, nil
}

// Unsubscribe removes a registration. It reports whether anything was removed.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	match := func(s *Subscription) bool { return s.id == sub.id }

	if sub.eventType == Wildcard {
		n := len(b.wildcards)
		b.wildcards = slices.DeleteFunc(b.wildcards, match)
		return len(b.wildcards) < n
	}

	subs := b.byType[sub.eventType]
	n := len(subs)
	subs = slices.DeleteFunc(subs, match)
	if len(subs) == 0 {
		delete(b.byType, sub.eventType)
	} else {
		b.byType[sub.eventType] = subs
	}
	return len(subs) < n
}

// Publish enqueues evt. It never blocks: a full queue fails immediately with
// an error wrapping ErrQueueFull.
func (b *Bus) Publish(ctx context.Context, evt *event.Event, opts ...PublishOption) error {
	if evt == nil {
		return ErrInvalidEvent
	}
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	po := publishOptions{}
	for _, opt := range opts {
		opt(&po)
	}

	b.mu.Lock()
	if b.queue.Len() >= b.cfg.QueueSize {
		b.rejected++
		b.mu.Unlock()

		err := &errors.CapacityError{Resource: "bus queue", Capacity: b.cfg.QueueSize, Err: ErrQueueFull}
		b.metrics.RecordPublish(ctx, evt.Type.String(), false)
		observability.LogPublishRejected(b.logger, evt, err)
		return err
	}
	b.seq++
	heap.Push(&b.queue, &item{
		priority:   po.priority,
		seq:        b.seq,
		enqueuedAt: time.Now(),
		evt:        evt,
	})
	b.published++
	depth := b.queue.Len()
	b.mu.Unlock()

	b.wake()
	b.metrics.RecordPublish(ctx, evt.Type.String(), true)
	b.observeQueue(depth)
	return nil
}

// PublishAsync hands the enqueue to the worker pool so the caller never
// waits on the bus lock. It fails only when the hand-off itself is
// impossible; the enqueue outcome is logged.
func (b *Bus) PublishAsync(ctx context.Context, evt *event.Event, opts ...PublishOption) error {
	b.mu.Lock()
	running, pool := b.running, b.pool
	b.mu.Unlock()

	if !running {
		return ErrNotRunning
	}

	ok := pool.Submit(func(context.Context) {
		// Publish already logs rejections.
		_ = b.Publish(ctx, evt, opts...)
	})
	if !ok {
		return &errors.CapacityError{Resource: "worker pool", Capacity: pool.QueueCap(), Err: ErrPoolSaturated}
	}
	return nil
}

// Start launches the dispatch loop and the worker pool. Calling Start on a
// running bus does nothing.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	b.pool = newWorkerPool(context.Background(), b.cfg.Workers, b.cfg.WorkerBuffer, runTask)
	stopCh, done := b.stopCh, b.done
	b.mu.Unlock()

	go b.loop(stopCh, done)

	observability.LogLifecycle(b.logger, "started",
		slog.Int("workers", b.cfg.Workers),
		slog.Int("queue_size", b.cfg.QueueSize),
	)
}

// Stop signals the dispatch loop to exit and waits for it, bounded by
// Config.StopTimeout. The worker pool is shut down without draining: Async
// callbacks already running finish on their own, queued ones are abandoned.
// Events still in the queue stay there until the next Start or Clear.
func (b *Bus) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.stopCh)
	done, pool := b.done, b.pool
	b.mu.Unlock()

	pool.Stop()

	select {
	case <-done:
	case <-time.After(b.cfg.StopTimeout):
		b.logger.Warn("dispatch loop did not stop in time",
			slog.Duration("timeout", b.cfg.StopTimeout))
		return ErrStopTimeout
	}

	observability.LogLifecycle(b.logger, "stopped")
	return nil
}

// Running reports whether the dispatch loop is active.
func (b *Bus) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Stats returns a snapshot of the bus state and counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := make(map[string]int, len(b.byType)+1)
	for t, list := range b.byType {
		subs[t.String()] = len(list)
	}
	if len(b.wildcards) > 0 {
		subs[string(Wildcard)] = len(b.wildcards)
	}

	failures := make(map[string]uint64, len(b.failures))
	for name, n := range b.failures {
		failures[name] = n
	}

	return Stats{
		Running:          b.running,
		QueueSize:        b.queue.Len(),
		QueueCapacity:    b.cfg.QueueSize,
		DedupSize:        len(b.seen),
		Published:        b.published,
		Rejected:         b.rejected,
		Dispatched:       b.dispatched,
		Duplicates:       b.duplicates,
		Dropped:          b.dropped,
		SubscriberErrors: b.subscriberErrors,
		Subscribers:      subs,
		Failures:         failures,
	}
}

// Clear drops every queued event and forgets every delivered id.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.queue)
	b.queue = b.queue[:0]
	b.seen = make(map[string]struct{})
	b.order = nil
}

func (b *Bus) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Bus) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(b.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		evt, ok := b.pop()
		if ok {
			b.dispatch(evt)
			continue
		}

		timer.Reset(b.cfg.PollInterval)
		select {
		case <-stopCh:
			return
		case <-b.notify:
		case <-timer.C:
		}
	}
}

func (b *Bus) pop() (*event.Event, bool) {
	b.mu.Lock()
	if b.queue.Len() == 0 {
		b.mu.Unlock()
		return nil, false
	}
	it := heap.Pop(&b.queue).(*item)
	depth := b.queue.Len()
	b.mu.Unlock()

	b.observeQueue(depth)
	return it.evt, true
}

// dispatch delivers one event to its subscribers, at most once per id.
func (b *Bus) dispatch(evt *event.Event) {
	ctx := context.Background()
	start := time.Now()

	b.mu.Lock()
	if _, dup := b.seen[evt.ID]; dup {
		b.duplicates++
		b.mu.Unlock()
		b.metrics.RecordDuplicate(ctx, evt.Type.String())
		observability.LogDuplicate(b.logger, evt)
		return
	}
	b.remember(evt.ID)
	subs := make([]*Subscription, 0, len(b.byType[evt.Type])+len(b.wildcards))
	subs = append(subs, b.byType[evt.Type]...)
	subs = append(subs, b.wildcards...)
	pool := b.pool
	b.dispatched++
	b.mu.Unlock()

	ctx, span := b.tracer.Dispatch(ctx, evt)
	for _, sub := range subs {
		if sub.mode == Async {
			if pool == nil || !pool.Submit(func(context.Context) { b.invoke(ctx, sub, evt) }) {
				b.mu.Lock()
				b.dropped++
				b.mu.Unlock()
				b.logger.Warn("async delivery dropped",
					append(observability.EventAttrs(evt), slog.String("subscriber", sub.name))...)
			}
			continue
		}
		b.invoke(ctx, sub, evt)
	}
	b.tracer.End(span, nil)
	b.metrics.RecordDispatch(ctx, evt.Type.String(), len(subs), time.Since(start))
}

// remember records id and evicts the oldest half once the set exceeds its
// capacity. Caller holds b.mu.
func (b *Bus) remember(id string) {
	b.seen[id] = struct{}{}
	b.order = append(b.order, id)

	if len(b.order) <= b.cfg.DedupCapacity {
		return
	}
	evict := len(b.order) - b.cfg.DedupCapacity/2
	for _, old := range b.order[:evict] {
		delete(b.seen, old)
	}
	b.order = slices.Clone(b.order[evict:])
}

// invoke runs one callback, containing errors and panics.
func (b *Bus) invoke(ctx context.Context, sub *Subscription, evt *event.Event) {
	err := safeCall(ctx, sub, evt)
	if err == nil {
		return
	}

	b.mu.Lock()
	b.subscriberErrors++
	b.failures[sub.name]++
	b.mu.Unlock()

	b.metrics.RecordSubscriberError(ctx, sub.name)
	observability.LogSubscriberError(b.logger, sub.name, evt, err)
}

func safeCall(ctx context.Context, sub *Subscription, evt *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errors.SubscriberError{Subscriber: sub.name, EventID: evt.ID, Panic: r}
		}
	}()

	if herr := sub.handler(ctx, evt); herr != nil {
		return &errors.SubscriberError{Subscriber: sub.name, EventID: evt.ID, Err: herr}
	}
	return nil
}

func (b *Bus) observeQueue(depth int) {
	if q, ok := b.metrics.(observability.QueueObserver); ok {
		q.ObserveQueue(depth, b.cfg.QueueSize)
	}
}
