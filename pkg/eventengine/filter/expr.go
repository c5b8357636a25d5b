package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/spf13/cast"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// ErrEmptyExpression is returned for a blank expression.
var ErrEmptyExpression = errors.New("empty expression")

// BinaryOp compares two resolved operands.
type BinaryOp func(left, right any) bool

// ExprOption configures an ExprFilter.
type ExprOption func(*ExprFilter)

// WithExprTypes restricts the event types the filter receives.
func WithExprTypes(types ...event.Type) ExprOption {
	return func(f *ExprFilter) {
		f.types = types
	}
}

// WithOperator registers a custom binary operator, used as "left name right".
func WithOperator(name string, fn BinaryOp) ExprOption {
	return func(f *ExprFilter) {
		f.customOps[name] = fn
	}
}

// ExprFilter passes events for which a boolean expression holds.
//
// Grammar, lowest precedence first:
//
//	<expr> := <expr> 'or' <expr> | <expr> 'and' <expr> | 'not' <expr> | '!' <expr>
//	        | <value> <op> <value> | <value>
//	<op>   := '==' | '!=' | '<' | '>' | '<=' | '>=' | 'contains' | 'matches'
//
// Values are quoted strings, numbers, true, false, null, or the variables
// type, source, severity, subject, message, tags, processed and data.<key>
// (nested keys as data.a.b). Severities compare by rank, so
// "severity >= WARNING" works. Unknown bare words are string literals.
//
//	f, _ := filter.NewExprFilter("big-moves", "data.change_pct > 5 or data.change_pct < -5")
type ExprFilter struct {
	base
	expression string
	customOps  map[string]BinaryOp
}

// NewExprFilter parses expression. Blank expressions and unbalanced quotes
// are errors.
func NewExprFilter(name, expression string, opts ...ExprOption) (*ExprFilter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	if strings.Count(expression, "'")%2 != 0 || strings.Count(expression, `"`)%2 != 0 {
		return nil, fmt.Errorf("unbalanced quotes in %q", expression)
	}

	f := &ExprFilter{
		base:       base{name: name},
		expression: expression,
		customOps: map[string]BinaryOp{
			"matches": matchesOp,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Expression returns the source expression.
func (f *ExprFilter) Expression() string { return f.expression }

// Matches implements Filter.
func (f *ExprFilter) Matches(evt *event.Event) bool {
	return f.eval(f.expression, evt)
}

// Process implements processor.Stage.
func (f *ExprFilter) Process(_ context.Context, evt *event.Event) ([]*event.Event, error) {
	return pass(f, evt)
}

func (f *ExprFilter) eval(expr string, evt *event.Event) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}

	if left, right, ok := splitOutsideQuotes(expr, " or "); ok {
		return f.eval(left, evt) || f.eval(right, evt)
	}
	if left, right, ok := splitOutsideQuotes(expr, " and "); ok {
		return f.eval(left, evt) && f.eval(right, evt)
	}
	if inner, ok := strings.CutPrefix(expr, "not "); ok {
		return !f.eval(inner, evt)
	}
	if inner, ok := strings.CutPrefix(expr, "!"); ok && !strings.HasPrefix(inner, "=") {
		return !f.eval(inner, evt)
	}

	// Longer operators first so ">=" is not read as ">".
	builtins := []struct {
		op      string
		compare BinaryOp
	}{
		{"==", equalOp},
		{"!=", func(l, r any) bool { return !equalOp(l, r) }},
		{">=", ordered(func(c int) bool { return c >= 0 })},
		{"<=", ordered(func(c int) bool { return c <= 0 })},
		{">", ordered(func(c int) bool { return c > 0 })},
		{"<", ordered(func(c int) bool { return c < 0 })},
		{" contains ", containsOp},
	}
	for _, b := range builtins {
		if left, right, ok := splitOutsideQuotes(expr, b.op); ok {
			return b.compare(resolve(left, evt), resolve(right, evt))
		}
	}
	for name, fn := range f.customOps {
		if left, right, ok := splitOutsideQuotes(expr, " "+name+" "); ok {
			return fn(resolve(left, evt), resolve(right, evt))
		}
	}

	return truthy(resolve(expr, evt))
}

// splitOutsideQuotes splits s at the first sep that is not inside quotes.
func splitOutsideQuotes(s, sep string) (string, string, bool) {
	var quote byte
	for i := 0; i+len(sep) <= len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case strings.HasPrefix(s[i:], sep):
			return s[:i], s[i+len(sep):], true
		}
	}
	return "", "", false
}

// resolve turns an operand into a value.
func resolve(s string, evt *event.Event) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil":
		return nil
	}

	var num json.Number
	if err := json.Unmarshal([]byte(s), &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return i
		}
		if f, err := num.Float64(); err == nil {
			return f
		}
	}

	switch s {
	case "type":
		return string(evt.Type)
	case "source":
		return string(evt.Source)
	case "severity":
		return evt.Severity
	case "subject":
		return evt.Subject
	case "message":
		return evt.Message
	case "tags":
		return evt.Tags
	case "processed":
		return evt.Processed
	}

	if path, ok := strings.CutPrefix(s, "data."); ok {
		return lookup(evt.Data, strings.Split(path, "."))
	}
	return s
}

// lookup walks nested payload maps. Missing keys resolve to nil.
func lookup(data map[string]any, path []string) any {
	var cur any = data
	for _, key := range path {
		m, err := cast.ToStringMapE(cur)
		if err != nil {
			return nil
		}
		v, ok := m[key]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []string:
		return len(val) > 0
	}
	if f, ok := number(v); ok {
		return f != 0
	}
	return true
}

// number converts numeric operands, including numeric strings.
func number(v any) (float64, bool) {
	switch v.(type) {
	case nil, bool, event.Severity:
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	return f, err == nil
}

func severityOf(v any) (event.Severity, bool) {
	switch s := v.(type) {
	case event.Severity:
		return s, true
	case string:
		sev, err := event.ParseSeverity(strings.ToUpper(s))
		return sev, err == nil
	}
	return 0, false
}

// compare orders two operands: severities by rank, otherwise numerically.
func compare(l, r any) (int, bool) {
	_, lSev := l.(event.Severity)
	_, rSev := r.(event.Severity)
	if lSev || rSev {
		ls, lok := severityOf(l)
		rs, rok := severityOf(r)
		if !lok || !rok {
			return 0, false
		}
		return int(ls) - int(rs), true
	}

	lf, lok := number(l)
	rf, rok := number(r)
	if !lok || !rok {
		return 0, false
	}
	switch {
	case lf < rf:
		return -1, true
	case lf > rf:
		return 1, true
	}
	return 0, true
}

func ordered(accept func(int) bool) BinaryOp {
	return func(l, r any) bool {
		c, ok := compare(l, r)
		return ok && accept(c)
	}
}

func equalOp(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	if c, ok := compare(l, r); ok {
		return c == 0
	}
	return fmt.Sprint(l) == fmt.Sprint(r)
}

func containsOp(l, r any) bool {
	needle := fmt.Sprint(r)
	switch v := l.(type) {
	case nil:
		return false
	case []string:
		return slices.Contains(v, needle)
	case []any:
		return slices.ContainsFunc(v, func(item any) bool { return fmt.Sprint(item) == needle })
	case map[string]any:
		_, ok := v[needle]
		return ok
	}
	return strings.Contains(fmt.Sprint(l), needle)
}

func matchesOp(l, r any) bool {
	if l == nil {
		return false
	}
	re, err := regexp.Compile(fmt.Sprint(r))
	if err != nil {
		return false
	}
	return re.MatchString(fmt.Sprint(l))
}
