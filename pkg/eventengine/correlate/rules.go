package correlate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
	"github.com/randalmurphal/eventengine/pkg/eventengine/processor"
)

// Rule decides whether evt, given the events seen before it inside the
// window, forms a pattern worth reporting.
type Rule struct {
	Name     string
	Severity event.Severity
	Match    func(evt *event.Event, recent []*event.Event) bool
}

// RuleBasedCorrelator evaluates every rule on each event. Each rule that
// matches emits its own composite tagged with the rule index.
type RuleBasedCorrelator struct {
	*core
	rules []Rule
}

var _ processor.Stage = (*RuleBasedCorrelator)(nil)

// NewRuleBasedCorrelator creates a RuleBasedCorrelator. A rule with zero
// Severity emits Warning events.
func NewRuleBasedCorrelator(cfg Config, rules ...Rule) *RuleBasedCorrelator {
	return &RuleBasedCorrelator{core: newCore(cfg), rules: rules}
}

// Process implements processor.Stage.
func (r *RuleBasedCorrelator) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	if r.own(evt) {
		return nil, nil
	}

	r.mu.Lock()
	now := r.cfg.Clock.Now()
	r.buffer.prune(now)
	history := r.buffer.events()
	r.buffer.add(evt, now)
	r.mu.Unlock()

	var out []*event.Event
	for i, rule := range r.rules {
		if rule.Match == nil || !rule.Match(evt, history) {
			continue
		}
		name := rule.Name
		if name == "" {
			name = "rule-" + strconv.Itoa(i)
		}
		severity := rule.Severity
		if severity == event.Debug {
			severity = event.Warning
		}
		derived, err := processor.NewComposite(r.cfg.Name, r.cfg.Source, now,
			fmt.Sprintf("rule %s matched", name),
			[]string{evt.ID}, []string{"correlated", "rule", "rule:" + strconv.Itoa(i)},
			event.WithSubject(evt.Subject),
			event.WithSeverity(severity),
			event.WithData(map[string]any{
				"rule_index":  i,
				"rule_name":   name,
				"window_size": len(history),
			}),
		)
		if err != nil {
			return out, err
		}
		out = append(out, derived)
	}
	return out, nil
}
