package pipeline

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/randalmurphal/eventengine/pkg/eventengine/aggregate"
	"github.com/randalmurphal/eventengine/pkg/eventengine/anomaly"
	"github.com/randalmurphal/eventengine/pkg/eventengine/config"
	"github.com/randalmurphal/eventengine/pkg/eventengine/correlate"
	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/filter"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

// Built-in kinds.
const (
	KindTypeFilter         = "type_filter"
	KindSeverityFilter     = "severity_filter"
	KindSourceFilter       = "source_filter"
	KindSubjectFilter      = "subject_filter"
	KindDataFilter         = "data_filter"
	KindExprFilter         = "expr_filter"
	KindCompositeFilter    = "composite_filter"
	KindCountAggregator    = "count_aggregator"
	KindSubjectAggregator  = "subject_aggregator"
	KindSeverityAggregator = "severity_aggregator"
	KindSequenceCorrelator = "sequence_correlator"
	KindSubjectCorrelator  = "subject_correlator"
	KindRuleCorrelator     = "rule_correlator"
	KindFrequencyDetector  = "frequency_detector"
	KindPatternDetector    = "pattern_detector"
	KindValueDetector      = "value_detector"
	KindChain              = "chain"
	KindComposite          = "composite"
)

func builtins() map[string]Factory {
	return map[string]Factory{
		KindTypeFilter:         typeFilter,
		KindSeverityFilter:     severityFilter,
		KindSourceFilter:       sourceFilter,
		KindSubjectFilter:      subjectFilter,
		KindDataFilter:         dataFilter,
		KindExprFilter:         exprFilter,
		KindCompositeFilter:    compositeFilter,
		KindCountAggregator:    countAggregator,
		KindSubjectAggregator:  subjectAggregator,
		KindSeverityAggregator: severityAggregator,
		KindSequenceCorrelator: sequenceCorrelator,
		KindSubjectCorrelator:  subjectCorrelator,
		KindRuleCorrelator:     ruleCorrelator,
		KindFrequencyDetector:  frequencyDetector,
		KindPatternDetector:    patternDetector,
		KindValueDetector:      valueDetector,
		KindChain:              chain,
		KindComposite:          composite,
	}
}

// Filters

func typeFilter(_ *Builder, def config.Config) (processor.Stage, error) {
	include, err := types(def, "include")
	if err != nil {
		return nil, err
	}
	exclude, err := types(def, "exclude")
	if err != nil {
		return nil, err
	}
	return filter.NewTypeFilter(def.String("name", ""), include, exclude), nil
}

func severityFilter(_ *Builder, def config.Config) (processor.Stage, error) {
	ts, err := types(def, "types")
	if err != nil {
		return nil, err
	}
	minSeverity, err := severity(def, "min_severity", event.Info)
	if err != nil {
		return nil, err
	}
	return filter.NewSeverityFilter(def.String("name", ""), minSeverity, ts...), nil
}

func sourceFilter(_ *Builder, def config.Config) (processor.Stage, error) {
	ts, err := types(def, "types")
	if err != nil {
		return nil, err
	}
	include, err := sources(def, "include")
	if err != nil {
		return nil, err
	}
	exclude, err := sources(def, "exclude")
	if err != nil {
		return nil, err
	}
	return filter.NewSourceFilter(def.String("name", ""), include, exclude, ts...), nil
}

func subjectFilter(_ *Builder, def config.Config) (processor.Stage, error) {
	ts, err := types(def, "types")
	if err != nil {
		return nil, err
	}
	patterns, err := stringList(def, "patterns")
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("%w: patterns is required", ErrInvalid)
	}
	return filter.NewSubjectFilter(def.String("name", ""), patterns, ts...)
}

func dataFilter(_ *Builder, def config.Config) (processor.Stage, error) {
	ts, err := types(def, "types")
	if err != nil {
		return nil, err
	}
	conditions := def.Section("conditions").Raw()
	if len(conditions) == 0 {
		return nil, fmt.Errorf("%w: conditions is required", ErrInvalid)
	}
	return filter.NewDataFilter(def.String("name", ""), conditions, ts...), nil
}

func exprFilter(b *Builder, def config.Config) (processor.Stage, error) {
	ts, err := types(def, "types")
	if err != nil {
		return nil, err
	}
	return b.expr(def.String("name", ""), def.String("expression", ""), ts)
}

func compositeFilter(b *Builder, def config.Config) (processor.Stage, error) {
	var requireAll bool
	switch mode := def.String("mode", "all"); mode {
	case "all", "and":
		requireAll = true
	case "any", "or":
	default:
		return nil, fmt.Errorf("%w: mode %q", ErrInvalid, mode)
	}

	var children []filter.Filter
	for i, child := range def.Sections("filters") {
		s, err := b.BuildOne(child)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		f, ok := s.(filter.Filter)
		if !ok {
			return nil, fmt.Errorf("%w: filter %d (%s) is not a filter", ErrInvalid, i, s.Name())
		}
		children = append(children, f)
	}
	return filter.NewCompositeFilter(def.String("name", ""), requireAll, children...), nil
}

func (b *Builder) expr(name, expression string, ts []event.Type) (*filter.ExprFilter, error) {
	opts := append([]filter.ExprOption{filter.WithExprTypes(ts...)}, b.exprOpts...)
	return filter.NewExprFilter(name, expression, opts...)
}

// Aggregators

func aggregateConfig(b *Builder, def config.Config) (aggregate.Config, error) {
	ts, err := types(def, "types")
	if err != nil {
		return aggregate.Config{}, err
	}
	src, err := source(def, "source")
	if err != nil {
		return aggregate.Config{}, err
	}
	return aggregate.Config{
		Name:             def.String("name", ""),
		Types:            ts,
		Window:           def.Duration("window", 0),
		Threshold:        def.Int("threshold", 0),
		Source:           src,
		IncludeComposite: def.Bool("include_composite", false),
		Clock:            b.clock,
	}, nil
}

func countAggregator(b *Builder, def config.Config) (processor.Stage, error) {
	cfg, err := aggregateConfig(b, def)
	if err != nil {
		return nil, err
	}
	return aggregate.NewCountAggregator(cfg), nil
}

func subjectAggregator(b *Builder, def config.Config) (processor.Stage, error) {
	cfg, err := aggregateConfig(b, def)
	if err != nil {
		return nil, err
	}
	return aggregate.NewSubjectAggregator(cfg), nil
}

func severityAggregator(b *Builder, def config.Config) (processor.Stage, error) {
	cfg, err := aggregateConfig(b, def)
	if err != nil {
		return nil, err
	}
	minSeverity, err := severity(def, "min_severity", event.Error)
	if err != nil {
		return nil, err
	}
	return aggregate.NewSeverityAggregator(cfg, minSeverity), nil
}

// Correlators

func correlateConfig(b *Builder, def config.Config) (correlate.Config, error) {
	ts, err := types(def, "types")
	if err != nil {
		return correlate.Config{}, err
	}
	src, err := source(def, "source")
	if err != nil {
		return correlate.Config{}, err
	}
	return correlate.Config{
		Name:       def.String("name", ""),
		Types:      ts,
		Window:     def.Duration("window", 0),
		BufferSize: def.Int("buffer_size", 0),
		Threshold:  def.Int("threshold", 0),
		Source:     src,
		Clock:      b.clock,
	}, nil
}

func sequenceCorrelator(b *Builder, def config.Config) (processor.Stage, error) {
	cfg, err := correlateConfig(b, def)
	if err != nil {
		return nil, err
	}
	sequence, err := types(def, "sequence")
	if err != nil {
		return nil, err
	}
	var opts []correlate.SequenceOption
	if !def.Bool("generate_event", true) {
		opts = append(opts, correlate.Silent())
	}
	return correlate.NewSequenceCorrelator(cfg, sequence, opts...)
}

func subjectCorrelator(b *Builder, def config.Config) (processor.Stage, error) {
	cfg, err := correlateConfig(b, def)
	if err != nil {
		return nil, err
	}
	return correlate.NewSubjectCorrelator(cfg), nil
}

// ruleCorrelator reads rules of the form
//
//	rules:
//	  - name: repeated-rejects
//	    severity: ERROR
//	    expression: type == order_rejected
//	    min_history: 2
//
// A rule matches when the expression holds for the event and for at least
// min_history of the events before it in the window.
func ruleCorrelator(b *Builder, def config.Config) (processor.Stage, error) {
	cfg, err := correlateConfig(b, def)
	if err != nil {
		return nil, err
	}

	defs := def.Sections("rules")
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: rules is required", ErrInvalid)
	}
	rules := make([]correlate.Rule, 0, len(defs))
	for i, rd := range defs {
		name := rd.String("name", "")
		sev, err := severity(rd, "severity", event.Warning)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		f, err := b.expr(name, rd.String("expression", ""), nil)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, correlate.Rule{
			Name:     name,
			Severity: sev,
			Match:    historyMatch(f, rd.Int("min_history", 0)),
		})
	}
	return correlate.NewRuleBasedCorrelator(cfg, rules...), nil
}

func historyMatch(f filter.Filter, minHistory int) func(*event.Event, []*event.Event) bool {
	return func(evt *event.Event, recent []*event.Event) bool {
		if !f.Matches(evt) {
			return false
		}
		n := 0
		for _, e := range recent {
			if n >= minHistory {
				break
			}
			if f.Matches(e) {
				n++
			}
		}
		return n >= minHistory
	}
}

// Detectors

func anomalyConfig(b *Builder, def config.Config) (anomaly.Config, error) {
	ts, err := types(def, "types")
	if err != nil {
		return anomaly.Config{}, err
	}
	src, err := source(def, "source")
	if err != nil {
		return anomaly.Config{}, err
	}
	return anomaly.Config{
		Name:      def.String("name", ""),
		Types:     ts,
		Threshold: def.Float("threshold", 0),
		Window:    def.Duration("window", 0),
		Source:    src,
		Clock:     b.clock,
	}, nil
}

func frequencyDetector(b *Builder, def config.Config) (processor.Stage, error) {
	cfg, err := anomalyConfig(b, def)
	if err != nil {
		return nil, err
	}
	return anomaly.NewFrequencyDetector(cfg), nil
}

func patternDetector(b *Builder, def config.Config) (processor.Stage, error) {
	cfg, err := anomalyConfig(b, def)
	if err != nil {
		return nil, err
	}
	return anomaly.NewPatternDetector(cfg, def.Int("size", 0), def.Float("rarity", 0))
}

func valueDetector(b *Builder, def config.Config) (processor.Stage, error) {
	cfg, err := anomalyConfig(b, def)
	if err != nil {
		return nil, err
	}
	return anomaly.NewValueDetector(cfg, def.String("field", ""))
}

// Composition

func chain(b *Builder, def config.Config) (processor.Stage, error) {
	stages, err := b.nested(def)
	if err != nil {
		return nil, err
	}
	return processor.Chain(def.String("name", ""), stages...), nil
}

func composite(b *Builder, def config.Config) (processor.Stage, error) {
	stages, err := b.nested(def)
	if err != nil {
		return nil, err
	}
	return processor.Composite(def.String("name", ""), stages...), nil
}

func (b *Builder) nested(def config.Config) ([]processor.Stage, error) {
	defs := def.Sections("stages")
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: stages is required", ErrInvalid)
	}
	stages := make([]processor.Stage, 0, len(defs))
	for i, d := range defs {
		s, err := b.BuildOne(d)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		stages = append(stages, s)
	}
	return stages, nil
}

// Field helpers

// stringList reads a list of scalars. YAML decodes unquoted subjects such as
// 2330 as integers, so elements are coerced to strings.
func stringList(def config.Config, key string) ([]string, error) {
	v := def.Any(key, nil)
	if v == nil {
		return nil, nil
	}
	list, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
	}
	return list, nil
}

func types(def config.Config, key string) ([]event.Type, error) {
	names, err := stringList(def, key)
	if err != nil || len(names) == 0 {
		return nil, err
	}
	out := make([]event.Type, len(names))
	for i, n := range names {
		if out[i], err = event.ParseType(n); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}
	return out, nil
}

func sources(def config.Config, key string) ([]event.Source, error) {
	names, err := stringList(def, key)
	if err != nil || len(names) == 0 {
		return nil, err
	}
	out := make([]event.Source, len(names))
	for i, n := range names {
		if out[i], err = event.ParseSource(n); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}
	return out, nil
}

func source(def config.Config, key string) (event.Source, error) {
	name := def.String(key, "")
	if name == "" {
		return "", nil
	}
	src, err := event.ParseSource(name)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return src, nil
}

func severity(def config.Config, key string, defaultVal event.Severity) (event.Severity, error) {
	name := def.String(key, "")
	if name == "" {
		return defaultVal, nil
	}
	sev, err := event.ParseSeverity(name)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return sev, nil
}
