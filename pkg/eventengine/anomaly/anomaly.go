// Package anomaly provides stateful statistical detectors. Each detector
// watches the events it receives and emits a Warning composite when the
// newest observation is an outlier against what it has seen before.
//
//   - FrequencyDetector: per (type, source) event counts per window, z-score
//     of the running count against previous windows.
//   - PatternDetector: rare n-grams over the stream of event types.
//   - ValueDetector: z-score of a numeric data field per subject.
package anomaly

import (
	"math"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

// Defaults.
const (
	DefaultThreshold   = 3.0
	DefaultWindow      = 60 * time.Second
	DefaultPatternSize = 3
	DefaultRarity      = 0.01
)

// History and minimum sample sizes.
const (
	frequencyHistory    = 10
	frequencyMinSamples = 3
	patternBuffer       = 1000
	patternMinObserved  = 10
	valueHistory        = 100
	valueMinSamples     = 10
	valueStdevFloor     = 1e-10
)

// Config configures a detector.
type Config struct {
	// Name identifies the detector. Required.
	Name string

	// Types restricts the event types received. Nil receives all types.
	Types []event.Type

	// Threshold is the z-score above which an observation is anomalous.
	// Default: 3.0
	Threshold float64

	// Window is the FrequencyDetector counting window.
	// Default: 60s
	Window time.Duration

	// Source is stamped on emitted events.
	// Default: event.SourceMonitoring
	Source event.Source

	// Clock drives windows and timestamps. Default: time.Now.
	Clock processor.Clock
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Source == "" {
		c.Source = event.SourceMonitoring
	}
	return c
}

type base struct {
	cfg Config
}

func (b base) Name() string        { return b.cfg.Name }
func (b base) Types() []event.Type { return b.cfg.Types }

func (b base) own(evt *event.Event) bool {
	return processor.EmittedBy(evt, b.cfg.Name)
}

// emit builds the anomaly composite for the triggering events.
func (b base) emit(now time.Time, message string, related []string, tags []string, opts ...event.Option) (*event.Event, error) {
	return processor.NewComposite(b.cfg.Name, b.cfg.Source, now, message, related,
		append([]string{"anomaly"}, tags...), opts...)
}

// meanStdev returns the mean and the sample standard deviation of xs. The
// deviation is zero for fewer than two samples.
func meanStdev(xs []float64) (mean, stdev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

// push appends v and drops the oldest values beyond limit.
func push[T any](xs []T, v T, limit int) []T {
	xs = append(xs, v)
	if over := len(xs) - limit; over > 0 {
		xs = append(xs[:0:0], xs[over:]...)
	}
	return xs
}
