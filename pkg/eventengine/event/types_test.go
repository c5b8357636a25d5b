package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

func TestSeverityOrdering(t *testing.T) {
	ordered := event.Severities()
	require.Len(t, ordered, 5)

	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1], ordered[i])
		assert.True(t, ordered[i].AtLeast(ordered[i-1]))
		assert.False(t, ordered[i-1].AtLeast(ordered[i]))
	}
	assert.True(t, event.Warning.AtLeast(event.Warning))
}

func TestParseSeverity(t *testing.T) {
	tests := map[string]event.Severity{
		"DEBUG":    event.Debug,
		"info":     event.Info,
		" Warning": event.Warning,
		"error":    event.Error,
		"CRITICAL": event.Critical,
	}
	for input, want := range tests {
		got, err := event.ParseSeverity(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}

	_, err := event.ParseSeverity("FATAL")
	assert.ErrorIs(t, err, event.ErrInvalidSeverity)
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "WARNING", event.Warning.String())
	assert.Equal(t, "Severity(9)", event.Severity(9).String())
}

func TestTypeFamilies(t *testing.T) {
	tests := map[event.Type]event.Family{
		event.PriceChange:            event.FamilyMarket,
		event.MergerAcquisition:      event.FamilyNews,
		event.OrderPartiallyFilled:   event.FamilyOrder,
		event.SystemShutdown:         event.FamilySystem,
		event.StrategySignal:         event.FamilyStrategy,
		event.RiskConcentrationAlert: event.FamilyRisk,
		event.Composite:              event.FamilyComposite,
	}
	for typ, family := range tests {
		assert.Equal(t, family, typ.Family(), typ)
	}

	assert.Equal(t, event.Family(""), event.Type("unknown").Family())
}

func TestTypes_AllValid(t *testing.T) {
	types := event.Types()
	assert.Len(t, types, 31)
	for _, typ := range types {
		assert.True(t, typ.Valid(), typ)
	}
}

func TestParseType(t *testing.T) {
	typ, err := event.ParseType("ORDER_FILLED")
	require.NoError(t, err)
	assert.Equal(t, event.OrderFilled, typ)

	_, err = event.ParseType("order_teleported")
	assert.ErrorIs(t, err, event.ErrInvalidType)
}

func TestParseSource(t *testing.T) {
	for _, src := range event.Sources() {
		parsed, err := event.ParseSource(string(src))
		require.NoError(t, err)
		assert.Equal(t, src, parsed)
	}

	_, err := event.ParseSource("crawler")
	assert.ErrorIs(t, err, event.ErrInvalidSource)
}
