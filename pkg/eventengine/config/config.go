// Package config provides type-safe configuration extraction from
// map[string]any, file loading, typed engine settings and hot reload.
//
// Accessors never fail: a missing key or a value that cannot be coerced
// yields the supplied default.
//
//	cfg, _ := config.FromFile("engine.yaml")
//	queue := cfg.Section("bus").Int("queue_size", 10000)
package config

import (
	"time"

	"github.com/spf13/cast"
)

// Config is a read-only view over a decoded document section.
type Config struct {
	data map[string]any
}

// New wraps data. A nil map behaves as an empty section.
func New(data map[string]any) Config {
	if data == nil {
		data = map[string]any{}
	}
	return Config{data: data}
}

// lookup returns the value under key when it has type T.
func lookup[T any](c Config, key string) (T, bool) {
	v, ok := c.data[key].(T)
	return v, ok
}

// String returns the string under key, or def.
func (c Config) String(key, def string) string {
	if s, ok := lookup[string](c, key); ok {
		return s
	}
	return def
}

// Duration returns the duration under key, or def. Strings go through
// time.ParseDuration ("250ms"); bare numbers are seconds.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	switch v := c.data[key].(type) {
	case nil:
		return def
	case time.Duration:
		return v
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return def
		}
		return d
	default:
		secs, ok := number(v)
		if !ok {
			return def
		}
		return time.Duration(secs * float64(time.Second))
	}
}

// Bool returns the bool under key, or def. Strings like "true" are not
// accepted.
func (c Config) Bool(key string, def bool) bool {
	if b, ok := lookup[bool](c, key); ok {
		return b
	}
	return def
}

// Int returns the integer under key, or def. 3.0 is an integer; 3.5 is not.
func (c Config) Int(key string, def int) int {
	f, ok := number(c.data[key])
	if !ok || f != float64(int(f)) {
		return def
	}
	return int(f)
}

// Float returns the number under key, or def.
func (c Config) Float(key string, def float64) float64 {
	if f, ok := number(c.data[key]); ok {
		return f
	}
	return def
}

// StringSlice returns the list of strings under key, or def when the value
// is not a list or holds anything other than strings.
func (c Config) StringSlice(key string, def []string) []string {
	switch v := c.data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return def
			}
			out[i] = s
		}
		return out
	default:
		return def
	}
}

// Section returns the nested map under key as a Config. Missing or
// non-map values yield an empty Config.
func (c Config) Section(key string) Config {
	m, err := cast.ToStringMapE(c.data[key])
	if err != nil {
		return New(nil)
	}
	return New(m)
}

// Sections returns the list of maps under key. Non-map elements are skipped.
func (c Config) Sections(key string) []Config {
	list, ok := c.data[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Config, 0, len(list))
	for _, item := range list {
		m, err := cast.ToStringMapE(item)
		if err != nil {
			continue
		}
		out = append(out, New(m))
	}
	return out
}

// Any returns the raw value under key, or def when the key is absent.
// A present nil is returned as nil.
func (c Config) Any(key string, def any) any {
	if v, ok := c.data[key]; ok {
		return v
	}
	return def
}

// Has reports whether key is present, even with a nil value.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw exposes the underlying map. Callers must not mutate it.
func (c Config) Raw() map[string]any { return c.data }

// number coerces numeric values. Strings and bools are not numbers here.
func number(v any) (float64, bool) {
	switch v.(type) {
	case nil, string, bool:
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	return f, err == nil
}
