package eventengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/eventengine/pkg/eventengine/bus"
	"github.com/randalmurphal/eventengine/pkg/eventengine/config"
	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/observability"
	"github.com/randalmurphal/eventengine/pkg/eventengine/pipeline"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
	"github.com/randalmurphal/eventengine/pkg/eventengine/store"
)

// ErrStoreDisabled is returned by queries when the engine has no store.
var ErrStoreDisabled = errors.New("event store is disabled")

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	registerer     prometheus.Registerer
	redis          *redis.Client
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	backend        store.Backend
	pipeline       []pipeline.Option
	stages         []processor.Stage
}

// WithLogger sets the logger. Default: a text logger on stderr at the
// configured level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPrometheusRegisterer sets where Prometheus collectors are registered
// when observability.metrics is prometheus.
// Default: prometheus.DefaultRegisterer
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithTracerProvider sets the provider used when observability.tracing is
// on. Default: the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider sets the provider used when observability.metrics is
// otel. Default: the global OpenTelemetry provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithRedisClient uses client for the redis backend instead of dialing
// store.redis_addr.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) {
		o.redis = client
	}
}

// WithBackend uses backend for the store regardless of store.backend.
func WithBackend(backend store.Backend) Option {
	return func(o *options) {
		o.backend = backend
	}
}

// WithPipelineOptions passes options to the pipeline builder, for custom
// kinds, expression operators or a test clock.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(o *options) {
		o.pipeline = append(o.pipeline, opts...)
	}
}

// WithStages registers stages built in code alongside the configured ones.
func WithStages(stages ...processor.Stage) Option {
	return func(o *options) {
		o.stages = append(o.stages, stages...)
	}
}

// Stats is a snapshot of the whole engine.
type Stats struct {
	Running    bool
	Bus        bus.Stats
	Store      *store.Stats
	Processors processor.RegistryStats
}

// Engine owns a bus, an optional store and the registered processors.
type Engine struct {
	settings config.Engine
	logger   *slog.Logger
	level    *slog.LevelVar
	metrics  observability.MetricsRecorder
	tracer   observability.Tracer

	bus      *bus.Bus
	store    *store.Store
	registry *processor.Registry

	watcher *config.Watcher

	mu        sync.Mutex
	running   bool
	stopWatch func()
}

// New creates a stopped engine from settings.
func New(settings config.Engine, opts ...Option) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{settings: settings, registry: processor.NewRegistry()}
	e.logger = o.logger
	if e.logger == nil {
		e.level = new(slog.LevelVar)
		e.level.Set(settings.Observability.Level())
		e.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: e.level}))
	}

	switch settings.Observability.Metrics {
	case config.MetricsOTel:
		e.metrics = observability.NewMetricsRecorder(o.meterProvider)
	case config.MetricsPrometheus:
		reg := o.registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		e.metrics = observability.NewPrometheusMetrics(reg)
	default:
		e.metrics = observability.NoopMetrics{}
	}
	e.tracer = observability.NoopTracer{}
	if settings.Observability.Tracing {
		e.tracer = observability.NewTracer(o.tracerProvider)
	}

	bs := settings.Bus
	e.bus = bus.New(bus.Config{
		QueueSize:     bs.QueueSize,
		Workers:       bs.Workers,
		WorkerBuffer:  bs.WorkerBuffer,
		PollInterval:  bs.PollInterval,
		StopTimeout:   bs.StopTimeout,
		DedupCapacity: bs.DedupCapacity,
		Logger:        e.logger,
		Metrics:       e.metrics,
		Tracer:        e.tracer,
	})

	if settings.Store.Enabled {
		backend, err := openBackend(settings.Store, o)
		if err != nil {
			return nil, err
		}
		e.store = store.New(e.bus, backend,
			store.WithMaxEvents(settings.Store.MaxEvents),
			store.WithTrimEvery(settings.Store.TrimEvery),
			store.WithLogger(e.logger),
			store.WithMetrics(e.metrics),
		)
	}

	stages, err := pipeline.Build(settings.Processors, o.pipeline...)
	if err != nil {
		e.closeStore()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	for i, s := range stages {
		def := settings.Processors[i]
		err := e.register(s,
			processor.WithFlushInterval(def.Duration("flush_interval", processor.DefaultFlushInterval)),
			processor.WithPublishPriority(def.Int("priority", 0)),
		)
		if err != nil {
			e.closeStore()
			return nil, err
		}
	}
	for _, s := range o.stages {
		if err := e.register(s); err != nil {
			e.closeStore()
			return nil, err
		}
	}
	return e, nil
}

// FromConfig creates an engine from a loaded config document.
func FromConfig(c config.Config, opts ...Option) (*Engine, error) {
	return New(config.EngineFromConfig(c), opts...)
}

// FromFile creates an engine from a YAML or JSON file. While the engine
// runs, edits to the file are applied to the retention cap and log level.
func FromFile(path string, opts ...Option) (*Engine, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	w, err := config.NewWatcher(path, o.logger)
	if err != nil {
		return nil, err
	}
	e, err := FromConfig(w.Config(), opts...)
	if err != nil {
		return nil, err
	}
	e.watcher = w
	w.OnChange(e.applyConfig)
	return e, nil
}

func openBackend(s config.StoreSettings, o options) (store.Backend, error) {
	if o.backend != nil {
		return o.backend, nil
	}
	switch s.Backend {
	case config.BackendMemory:
		return store.NewMemoryBackend(), nil
	case config.BackendRedis:
		client := o.redis
		if client == nil {
			client = redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		}
		return store.NewRedisBackend(client, s.RedisPrefix), nil
	default:
		backend, err := store.NewSQLiteBackend(s.Path)
		if err != nil {
			return nil, fmt.Errorf("open store %s: %w", s.Path, err)
		}
		return backend, nil
	}
}

func (e *Engine) register(s processor.Stage, opts ...processor.RunnerOption) error {
	base := []processor.RunnerOption{
		processor.WithLogger(e.logger),
		processor.WithMetrics(e.metrics),
		processor.WithTracer(e.tracer),
	}
	return e.registry.Register(processor.NewRunner(e.bus, s, append(base, opts...)...))
}

func (e *Engine) closeStore() {
	if e.store != nil {
		_ = e.store.Close()
	}
}

// Start starts the bus, the store and every processor, then begins watching
// the config file when there is one. Calling Start twice does nothing.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	e.bus.Start()
	if e.store != nil {
		if err := e.store.Start(); err != nil {
			_ = e.bus.Stop()
			return err
		}
	}
	if err := e.registry.StartAll(ctx); err != nil {
		_ = e.registry.StopAll()
		if e.store != nil {
			e.store.Stop()
		}
		_ = e.bus.Stop()
		return fmt.Errorf("start processors: %w", err)
	}

	if e.watcher != nil {
		stop, err := e.watcher.Watch()
		if err != nil {
			e.logger.Warn("config hot reload unavailable", slog.String("error", err.Error()))
		} else {
			e.stopWatch = stop
		}
	}

	e.running = true
	observability.LogLifecycle(e.logger, "engine started",
		slog.Int("processors", e.registry.Len()),
		slog.Bool("store", e.store != nil))
	return nil
}

// Stop stops the processors, the store subscription and the bus, in that
// order. The store backend stays open for queries.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false

	if e.stopWatch != nil {
		e.stopWatch()
		e.stopWatch = nil
	}

	var errs []error
	if err := e.registry.StopAll(); err != nil {
		errs = append(errs, err)
	}
	if e.store != nil {
		e.store.Stop()
	}
	if err := e.bus.Stop(); err != nil {
		errs = append(errs, err)
	}
	observability.LogLifecycle(e.logger, "engine stopped")
	return errors.Join(errs...)
}

// Close stops the engine and closes the store backend.
func (e *Engine) Close() error {
	err := e.Stop()
	if e.store != nil {
		err = errors.Join(err, e.store.Close())
	}
	return err
}

// Running reports whether the engine has been started.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Publish enqueues evt on the bus.
func (e *Engine) Publish(ctx context.Context, evt *event.Event, opts ...bus.PublishOption) error {
	return e.bus.Publish(ctx, evt, opts...)
}

// Subscribe registers h on the bus.
func (e *Engine) Subscribe(t event.Type, h bus.Handler, mode bus.Mode, opts ...bus.SubscribeOption) (*bus.Subscription, error) {
	return e.bus.Subscribe(t, h, mode, opts...)
}

// Query returns stored events matching q, newest first.
func (e *Engine) Query(ctx context.Context, q store.Query) ([]*event.Event, error) {
	if e.store == nil {
		return []*event.Event{}, ErrStoreDisabled
	}
	return e.store.Query(ctx, q)
}

// GetEvent returns a stored event by id.
func (e *Engine) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	if e.store == nil {
		return nil, ErrStoreDisabled
	}
	return e.store.GetByID(ctx, id)
}

// AddStage registers a stage at runtime. It starts immediately when the
// engine is running.
func (e *Engine) AddStage(ctx context.Context, s processor.Stage, opts ...processor.RunnerOption) error {
	if err := e.register(s, opts...); err != nil {
		return err
	}
	if !e.Running() {
		return nil
	}
	r, _ := e.registry.Get(s.Name())
	if err := r.Start(ctx); err != nil {
		e.registry.Unregister(s.Name())
		return err
	}
	return nil
}

// RemoveStage stops and unregisters the named stage.
func (e *Engine) RemoveStage(name string) bool {
	return e.registry.Unregister(name)
}

// Stats returns a snapshot of the engine.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	s := Stats{
		Running:    e.Running(),
		Bus:        e.bus.Stats(),
		Processors: e.registry.Stats(),
	}
	if e.store != nil {
		st, err := e.store.Stats(ctx)
		if err != nil {
			return s, err
		}
		s.Store = &st
	}
	return s, nil
}

// Settings returns the settings the engine was built with.
func (e *Engine) Settings() config.Engine { return e.settings }

// Bus returns the engine's bus.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Store returns the engine's store, or nil when it is disabled.
func (e *Engine) Store() *store.Store { return e.store }

// Registry returns the processor registry.
func (e *Engine) Registry() *processor.Registry { return e.registry }

// applyConfig applies the settings that can change while running.
func (e *Engine) applyConfig(c config.Config) {
	next := config.EngineFromConfig(c)
	if err := next.Validate(); err != nil {
		e.logger.Warn("ignoring invalid config reload", slog.String("error", err.Error()))
		return
	}
	if e.store != nil {
		e.store.SetMaxEvents(next.Store.MaxEvents)
	}
	if e.level != nil && e.level.Level() != next.Observability.Level() {
		e.logger.Info("log level changed", slog.String("level", next.Observability.Level().String()))
		e.level.Set(next.Observability.Level())
	}
}
