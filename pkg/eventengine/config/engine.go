package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Bus defaults.
const (
	DefaultQueueSize     = 10000
	DefaultWorkers       = 4
	DefaultWorkerBuffer  = 1024
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultStopTimeout   = 5 * time.Second
	DefaultDedupCapacity = 10000
)

// Store defaults.
const (
	DefaultStoreBackend = BackendSQLite
	DefaultStorePath    = "events.db"
	DefaultMaxEvents    = 100000
	DefaultTrimEvery    = 1000
)

// Store backend names.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Metrics exporter names.
const (
	MetricsNone       = "none"
	MetricsOTel       = "otel"
	MetricsPrometheus = "prometheus"
)

// ErrInvalidSettings is wrapped by Engine.Validate failures.
var ErrInvalidSettings = errors.New("invalid engine settings")

// BusSettings mirrors the "bus" section.
type BusSettings struct {
	QueueSize     int
	Workers       int
	WorkerBuffer  int
	PollInterval  time.Duration
	StopTimeout   time.Duration
	DedupCapacity int
}

// StoreSettings mirrors the "store" section.
type StoreSettings struct {
	Enabled     bool
	Backend     string
	Path        string
	RedisAddr   string
	RedisPrefix string
	MaxEvents   int
	TrimEvery   int
}

// ObservabilitySettings mirrors the "observability" section.
type ObservabilitySettings struct {
	LogLevel string
	Metrics  string
	Tracing  bool
}

// Level parses LogLevel, falling back to Info.
func (o ObservabilitySettings) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(o.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Engine holds typed engine settings.
//
//	bus:
//	  queue_size: 10000
//	  workers: 4
//	  poll_interval: 100ms
//	store:
//	  backend: sqlite
//	  path: events.db
//	  max_events: 100000
//	processors:
//	  - name: hot-subjects
//	    kind: subject_aggregator
type Engine struct {
	Bus           BusSettings
	Store         StoreSettings
	Observability ObservabilitySettings

	// Processors holds the raw processor definitions, built by the pipeline package.
	Processors []Config
}

// DefaultEngine returns the settings used when no file is given.
func DefaultEngine() Engine {
	return EngineFromConfig(New(nil))
}

// EngineFromConfig extracts engine settings, applying defaults for every
// missing or non-positive value.
func EngineFromConfig(c Config) Engine {
	b := c.Section("bus")
	s := c.Section("store")
	o := c.Section("observability")

	return Engine{
		Bus: BusSettings{
			QueueSize:     positive(b.Int("queue_size", DefaultQueueSize), DefaultQueueSize),
			Workers:       positive(b.Int("workers", DefaultWorkers), DefaultWorkers),
			WorkerBuffer:  positive(b.Int("worker_buffer", DefaultWorkerBuffer), DefaultWorkerBuffer),
			PollInterval:  positive(b.Duration("poll_interval", DefaultPollInterval), DefaultPollInterval),
			StopTimeout:   positive(b.Duration("stop_timeout", DefaultStopTimeout), DefaultStopTimeout),
			DedupCapacity: positive(b.Int("dedup_capacity", DefaultDedupCapacity), DefaultDedupCapacity),
		},
		Store: StoreSettings{
			Enabled:     s.Bool("enabled", true),
			Backend:     strings.ToLower(s.String("backend", DefaultStoreBackend)),
			Path:        s.String("path", DefaultStorePath),
			RedisAddr:   s.String("redis_addr", ""),
			RedisPrefix: s.String("redis_prefix", ""),
			MaxEvents:   positive(s.Int("max_events", DefaultMaxEvents), DefaultMaxEvents),
			TrimEvery:   positive(s.Int("trim_every", DefaultTrimEvery), DefaultTrimEvery),
		},
		Observability: ObservabilitySettings{
			LogLevel: o.String("log_level", "info"),
			Metrics:  strings.ToLower(o.String("metrics", MetricsNone)),
			Tracing:  o.Bool("tracing", false),
		},
		Processors: c.Sections("processors"),
	}
}

// Validate checks the enumerated settings.
func (e Engine) Validate() error {
	switch e.Store.Backend {
	case BackendSQLite, BackendMemory:
	case BackendRedis:
		if e.Store.RedisAddr == "" {
			return fmt.Errorf("%w: store.redis_addr is required for the redis backend", ErrInvalidSettings)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidSettings, e.Store.Backend)
	}

	switch e.Observability.Metrics {
	case MetricsNone, MetricsOTel, MetricsPrometheus:
	default:
		return fmt.Errorf("%w: unknown metrics exporter %q", ErrInvalidSettings, e.Observability.Metrics)
	}
	return nil
}

func positive[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
