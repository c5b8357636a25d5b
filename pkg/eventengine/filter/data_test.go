package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

func TestDataFilter(t *testing.T) {
	f := NewDataFilter("orders", map[string]any{
		"side":   "buy",
		"venue":  []any{"TWSE", "TPEx"},
		"meta":   map[string]any{"algo": "twap"},
		"shares": 1000,
		"qty": Predicate(func(v any) bool {
			n, ok := v.(float64)
			return ok && n >= 1000
		}),
	})

	base := map[string]any{
		"side":   "buy",
		"venue":  "TWSE",
		"qty":    5000.0,
		"meta":   map[string]any{"algo": "twap", "urgency": "low"},
		"shares": 1000.0,
	}

	tests := []struct {
		name   string
		mutate func(map[string]any)
		want   bool
	}{
		{"all hold", func(map[string]any) {}, true},
		{"equality fails", func(d map[string]any) { d["side"] = "sell" }, false},
		{"membership fails", func(d map[string]any) { d["venue"] = "NYSE" }, false},
		{"predicate fails", func(d map[string]any) { d["qty"] = 10.0 }, false},
		{"sub-map value differs", func(d map[string]any) { d["meta"] = map[string]any{"algo": "vwap"} }, false},
		{"sub-map not a map", func(d map[string]any) { d["meta"] = "twap" }, false},
		{"missing key", func(d map[string]any) { delete(d, "side") }, false},
		{"numeric types compare by value", func(d map[string]any) { d["shares"] = int64(1000) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make(map[string]any, len(base))
			for k, v := range base {
				data[k] = v
			}
			tt.mutate(data)
			evt := event.New(event.OrderFilled, event.SourceTrading, event.WithData(data))
			assert.Equal(t, tt.want, f.Matches(evt))
		})
	}
}

func TestDataFilter_NoPayload(t *testing.T) {
	f := NewDataFilter("needs-key", map[string]any{"price": 1.0})
	assert.False(t, f.Matches(event.New(event.PriceChange, event.SourceMarketData)))
	assert.True(t, NewDataFilter("empty", nil).Matches(event.New(event.PriceChange, event.SourceMarketData)))
}

func TestExpectations(t *testing.T) {
	assert.True(t, Equals("a").Holds("a"))
	assert.False(t, Equals("1").Holds(1), "strings never equal numbers")
	assert.True(t, OneOf(1, 2, 3).Holds(2.0))
	assert.False(t, OneOf().Holds("x"))
	assert.True(t, Contains(map[string]any{}).Holds(map[string]any{"x": 1}))
	assert.True(t, expectationOf([]string{"a", "b"}).Holds("b"))
	assert.True(t, expectationOf(func(v any) bool { return v == nil }).Holds(nil))
}
