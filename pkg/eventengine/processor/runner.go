package processor

import (
	"context"
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

// Bus is what a Runner needs from the event bus.
type Bus interface {
	bus.Publisher
	bus.Subscriber
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) RunnerOption {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t observability.Tracer) RunnerOption {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithFlushInterval sets how often a Flusher stage is flushed while the
// runner is started. Zero disables the ticker. Default: 1s.
func WithFlushInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d >= 0 {
			r.flushInterval = d
		}
	}
}

// WithPublishPriority sets the priority used to re-publish derived events.
func WithPublishPriority(p int) RunnerOption {
	return func(r *Runner) {
		r.priority = p
	}
}

// WithQueueSize bounds the runner's inbox. Events arriving while the inbox
// is full are dropped and counted. Default: 1024.
func WithQueueSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

const (
	// DefaultFlushInterval is the flush ticker period for Flusher stages.
	DefaultFlushInterval = time.Second

	// DefaultQueueSize is the capacity of a runner's inbox.
	DefaultQueueSize = 1024
)

// delivery is one event waiting in a runner's inbox, with the dispatch
// context it arrived on.
type delivery struct {
	ctx context.Context
	evt *event.Event
}

// Stats holds a runner's counters.
type Stats struct {
	Name          string
	Running       bool
	Processed     uint64
	Errors        uint64
	Emitted       uint64
	PublishErrors uint64
	Dropped       uint64
	Pending       int
	LastProcessed time.Time
}

// Runner connects a Stage to the bus.
type Runner struct {
	stage   Stage
	bus     Bus
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	tracer  observability.Tracer

	flushInterval time.Duration
	queueSize     int
	priority      int

	mu     sync.Mutex
	subs   []*bus.Subscription
	inbox  chan delivery
	stopCh chan struct{}
	wg     sync.WaitGroup

	processed     atomic.Uint64
	errors        atomic.Uint64
	emitted       atomic.Uint64
	publishErrors atomic.Uint64
	dropped       atomic.Uint64
	lastProcessed atomic.Int64
}

// NewRunner creates a stopped Runner for stage.
func NewRunner(b Bus, stage Stage, opts ...RunnerOption) *Runner {
	r := &Runner{
		stage:         stage,
		bus:           b,
		logger:        slog.Default(),
		metrics:       observability.NoopMetrics{},
		tracer:        observability.NoopTracer{},
		flushInterval: DefaultFlushInterval,
		queueSize:     DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = observability.EnrichLogger(r.logger, "processor").With(slog.String("processor", stage.Name()))
	return r
}

// Name returns the stage name.
func (r *Runner) Name() string { return r.stage.Name() }

// Stage returns the wrapped stage.
func (r *Runner) Stage() Stage { return r.stage }

// Start starts the stage, subscribes it to each of its types (or the
// wildcard) and starts the goroutine that drains the runner's inbox. For
// Flusher stages it also starts the flush ticker. Calling Start on a running
// runner does nothing.
//
// The subscription only hands events to the inbox, so the stage runs off the
// dispatch loop yet sees events one at a time in dispatch order.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs != nil {
		return nil
	}

	if l, ok := r.stage.(Lifecycle); ok {
		if err := l.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", r.Name(), err)
		}
	}

	types := r.stage.Types()
	if len(types) == 0 {
		types = []event.Type{bus.Wildcard}
	}
	inbox := make(chan delivery, r.queueSize)
	enqueue := func(ctx context.Context, evt *event.Event) error {
		select {
		case inbox <- delivery{ctx: ctx, evt: evt}:
		default:
			r.dropped.Add(1)
			r.logger.Warn("inbox full, event dropped", observability.EventAttrs(evt)...)
		}
		return nil
	}

	subs := make([]*bus.Subscription, 0, len(types))
	for _, t := range types {
		sub, err := r.bus.Subscribe(t, enqueue, bus.Queued, bus.WithName(r.Name()))
		if err != nil {
			for _, s := range subs {
				r.bus.Unsubscribe(s)
			}
			if l, ok := r.stage.(Lifecycle); ok {
				_ = l.Stop()
			}
			return fmt.Errorf("subscribe %s to %s: %w", r.Name(), t, err)
		}
		subs = append(subs, sub)
	}
	r.subs = subs
	r.inbox = inbox
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.drain(inbox, r.stopCh)

	if f, ok := r.stage.(Flusher); ok && r.flushInterval > 0 {
		r.wg.Add(1)
		go r.flushLoop(f, r.stopCh)
	}

	observability.LogLifecycle(r.logger, "started", slog.Int("subscriptions", len(subs)))
	return nil
}

// Stop unsubscribes, processes what is already in the inbox, stops the flush
// ticker and stops the stage. Calling Stop on a stopped runner does nothing.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.subs == nil {
		r.mu.Unlock()
		return nil
	}
	for _, sub := range r.subs {
		r.bus.Unsubscribe(sub)
	}
	r.subs = nil
	r.inbox = nil
	close(r.stopCh)
	r.stopCh = nil
	r.mu.Unlock()

	r.wg.Wait()

	var err error
	if l, ok := r.stage.(Lifecycle); ok {
		err = l.Stop()
	}
	observability.LogLifecycle(r.logger, "stopped")
	return err
}

// Running reports whether the runner is subscribed.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs != nil
}

// Stats returns a snapshot of the counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	running, pending := r.subs != nil, len(r.inbox)
	r.mu.Unlock()

	s := Stats{
		Name:          r.Name(),
		Running:       running,
		Processed:     r.processed.Load(),
		Errors:        r.errors.Load(),
		Emitted:       r.emitted.Load(),
		PublishErrors: r.publishErrors.Load(),
		Dropped:       r.dropped.Load(),
		Pending:       pending,
	}
	if ns := r.lastProcessed.Load(); ns > 0 {
		s.LastProcessed = time.Unix(0, ns).UTC()
	}
	return s
}

// Process runs the stage on evt and publishes the outputs, exactly as the bus
// subscription does.
func (r *Runner) Process(ctx context.Context, evt *event.Event) error {
	return r.handle(ctx, evt)
}

// drain runs the stage on inbox events one at a time. On stop it processes
// what is already queued and returns.
func (r *Runner) drain(inbox <-chan delivery, stopCh <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case d := <-inbox:
			_ = r.handle(d.ctx, d.evt)
		case <-stopCh:
			for {
				select {
				case d := <-inbox:
					_ = r.handle(d.ctx, d.evt)
				default:
					return
				}
			}
		}
	}
}

// handle runs the stage on one event. Stage failures are counted and logged
// here and never reach the bus. Outputs returned together with an error (a
// composite whose other children succeeded) are still published.
func (r *Runner) handle(ctx context.Context, evt *event.Event) error {
	start := time.Now()
	elapsedMs := observability.TimedOperation()
	ctx, span := r.tracer.Process(ctx, r.Name(), evt)

	out, err := r.safeProcess(ctx, evt)
	r.processed.Add(1)
	r.lastProcessed.Store(time.Now().UnixNano())

	if err != nil {
		r.errors.Add(1)
		observability.LogProcessorError(r.logger, r.Name(), evt, err)
	}

	r.tracer.Emitted(ctx, out)
	published := r.publish(ctx, out)
	if published > 0 {
		observability.LogProcessorEmit(r.logger, r.Name(), published, elapsedMs())
	}
	r.tracer.End(span, err)
	r.metrics.RecordProcessor(ctx, r.Name(), time.Since(start), published, err)
	return nil
}

func (r *Runner) safeProcess(ctx context.Context, evt *event.Event) (out []*event.Event, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &engerrors.SubscriberError{Subscriber: r.Name(), EventID: evt.ID, Panic: p}
		}
	}()
	return r.stage.Process(ctx, evt)
}

// publish re-publishes derived events and returns how many were accepted.
func (r *Runner) publish(ctx context.Context, events []*event.Event) int {
	n := 0
	for _, out := range events {
		if out == nil {
			continue
		}
		if err := r.bus.Publish(ctx, out, bus.WithPriority(r.priority)); err != nil {
			r.publishErrors.Add(1)
			observability.LogPublishRejected(r.logger, out, err)
			continue
		}
		n++
	}
	r.emitted.Add(uint64(n))
	return n
}

func (r *Runner) flushLoop(f Flusher, stopCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			r.flush(context.Background(), f)
		}
	}
}

// Flush closes the stage's windows now and publishes what they release.
// Stages that are not Flushers return nil.
func (r *Runner) Flush(ctx context.Context) error {
	f, ok := r.stage.(Flusher)
	if !ok {
		return nil
	}
	return r.flush(ctx, f)
}

func (r *Runner) flush(ctx context.Context, f Flusher) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &engerrors.SubscriberError{Subscriber: r.Name(), Panic: p}
		}
		if err != nil {
			r.errors.Add(1)
			r.logger.Error("flush failed", slog.String("error", err.Error()))
		}
	}()

	out, err := f.Flush(ctx)
	r.publish(ctx, out)
	return err
}
