package event

import (
	"fmt"
	"strings"
)

// Type identifies what happened. The set of types is closed; use Types()
// to enumerate it and ParseType to validate untrusted names.
type Type string

// Market data events.
const (
	PriceChange   Type = "price_change"
	VolumeChange  Type = "volume_change"
	MarketAnomaly Type = "market_anomaly"
	MarketCrash   Type = "market_crash"
	MarketRally   Type = "market_rally"
)

// News and announcement events.
const (
	News              Type = "news"
	Earnings          Type = "earnings"
	Dividend          Type = "dividend"
	MergerAcquisition Type = "merger_acquisition"
	Regulatory        Type = "regulatory"
)

// Order lifecycle events.
const (
	OrderCreated         Type = "order_created"
	OrderSubmitted       Type = "order_submitted"
	OrderFilled          Type = "order_filled"
	OrderPartiallyFilled Type = "order_partially_filled"
	OrderCancelled       Type = "order_cancelled"
	OrderRejected        Type = "order_rejected"
	OrderExpired         Type = "order_expired"
)

// System events.
const (
	SystemStartup  Type = "system_startup"
	SystemShutdown Type = "system_shutdown"
	SystemError    Type = "system_error"
	SystemWarning  Type = "system_warning"
	SystemInfo     Type = "system_info"
)

// Strategy events.
const (
	StrategySignal Type = "strategy_signal"
	StrategyStart  Type = "strategy_start"
	StrategyStop   Type = "strategy_stop"
	StrategyError  Type = "strategy_error"
)

// Risk events.
const (
	RiskLimitBreach        Type = "risk_limit_breach"
	RiskDrawdown           Type = "risk_drawdown"
	RiskPositionAlert      Type = "risk_position_alert"
	RiskConcentrationAlert Type = "risk_concentration_alert"
)

// Composite is reserved for events synthesized by processors.
const Composite Type = "composite"

// Family groups related event types.
type Family string

// Event type families.
const (
	FamilyMarket    Family = "market"
	FamilyNews      Family = "news"
	FamilyOrder     Family = "order"
	FamilySystem    Family = "system"
	FamilyStrategy  Family = "strategy"
	FamilyRisk      Family = "risk"
	FamilyComposite Family = "composite"
)

var typeFamilies = map[Type]Family{
	PriceChange:   FamilyMarket,
	VolumeChange:  FamilyMarket,
	MarketAnomaly: FamilyMarket,
	MarketCrash:   FamilyMarket,
	MarketRally:   FamilyMarket,

	News:              FamilyNews,
	Earnings:          FamilyNews,
	Dividend:          FamilyNews,
	MergerAcquisition: FamilyNews,
	Regulatory:        FamilyNews,

	OrderCreated:         FamilyOrder,
	OrderSubmitted:       FamilyOrder,
	OrderFilled:          FamilyOrder,
	OrderPartiallyFilled: FamilyOrder,
	OrderCancelled:       FamilyOrder,
	OrderRejected:        FamilyOrder,
	OrderExpired:         FamilyOrder,

	SystemStartup:  FamilySystem,
	SystemShutdown: FamilySystem,
	SystemError:    FamilySystem,
	SystemWarning:  FamilySystem,
	SystemInfo:     FamilySystem,

	StrategySignal: FamilyStrategy,
	StrategyStart:  FamilyStrategy,
	StrategyStop:   FamilyStrategy,
	StrategyError:  FamilyStrategy,

	RiskLimitBreach:        FamilyRisk,
	RiskDrawdown:           FamilyRisk,
	RiskPositionAlert:      FamilyRisk,
	RiskConcentrationAlert: FamilyRisk,

	Composite: FamilyComposite,
}

// orderedTypes keeps Types() stable for callers that display or iterate.
var orderedTypes = []Type{
	PriceChange, VolumeChange, MarketAnomaly, MarketCrash, MarketRally,
	News, Earnings, Dividend, MergerAcquisition, Regulatory,
	OrderCreated, OrderSubmitted, OrderFilled, OrderPartiallyFilled,
	OrderCancelled, OrderRejected, OrderExpired,
	SystemStartup, SystemShutdown, SystemError, SystemWarning, SystemInfo,
	StrategySignal, StrategyStart, StrategyStop, StrategyError,
	RiskLimitBreach, RiskDrawdown, RiskPositionAlert, RiskConcentrationAlert,
	Composite,
}

// Types returns every member of the closed type taxonomy.
func Types() []Type {
	return append([]Type(nil), orderedTypes...)
}

// Valid reports whether t belongs to the taxonomy.
func (t Type) Valid() bool {
	_, ok := typeFamilies[t]
	return ok
}

// Family returns the family t belongs to, or "" for unknown types.
func (t Type) Family() Family {
	return typeFamilies[t]
}

// String returns the type name.
func (t Type) String() string {
	return string(t)
}

// ParseType converts a name into a Type, rejecting names outside the taxonomy.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, string(t))
	}
	return []byte(t), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Source is the origin category of an event.
type Source string

// Event sources.
const (
	SourceMarketData Source = "market_data"
	SourceNews       Source = "news"
	SourceTrading    Source = "trading"
	SourceRisk       Source = "risk"
	SourceStrategy   Source = "strategy"
	SourceMonitoring Source = "monitoring"
	SourceUser       Source = "user"
	SourceExternal   Source = "external"
)

var orderedSources = []Source{
	SourceMarketData, SourceNews, SourceTrading, SourceRisk,
	SourceStrategy, SourceMonitoring, SourceUser, SourceExternal,
}

// Sources returns every known source.
func Sources() []Source {
	return append([]Source(nil), orderedSources...)
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	for _, known := range orderedSources {
		if s == known {
			return true
		}
	}
	return false
}

// String returns the source name.
func (s Source) String() string {
	return string(s)
}

// ParseSource converts a name into a Source.
func ParseSource(name string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, name)
	}
	return s, nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, string(s))
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Severity is a totally ordered rank. Compare severities with AtLeast or
// the integer ordering, never by name.
type Severity int

// Severity ranks, lowest first.
const (
	Debug Severity = iota
	Info
	Warning
	Error
	Critical
)

var severityNames = [...]string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

// Severities returns all ranks in ascending order.
func Severities() []Severity {
	return []Severity{Debug, Info, Warning, Error, Critical}
}

// Valid reports whether s is one of the defined ranks.
func (s Severity) Valid() bool {
	return s >= Debug && s <= Critical
}

// AtLeast reports whether s ranks at or above floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s >= floor
}

// String returns the upper-case severity name.
func (s Severity) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity converts a name (case-insensitive) into a Severity.
func ParseSeverity(name string) (Severity, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range severityNames {
		if n == upper {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSeverity, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSeverity, int(s))
	}
	return []byte(severityNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
