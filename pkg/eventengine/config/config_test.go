package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventengine/pkg/eventengine/config"
)

func TestNew(t *testing.T) {
	assert.NotNil(t, config.New(nil).Raw())
	assert.Equal(t, "v", config.New(map[string]any{"k": "v"}).String("k", ""))
}

func TestString(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"key exists", map[string]any{"name": "alice"}, "alice"},
		{"key missing", map[string]any{"other": "value"}, "default"},
		{"empty string", map[string]any{"name": ""}, ""},
		{"wrong type int", map[string]any{"name": 123}, "default"},
		{"wrong type bool", map[string]any{"name": true}, "default"},
		{"nil map", nil, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.New(tt.data).String("name", "default"))
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{"string", "250ms", 250 * time.Millisecond},
		{"invalid string", "soon", 10 * time.Second},
		{"int seconds", 30, 30 * time.Second},
		{"int64 seconds", int64(2), 2 * time.Second},
		{"float seconds", 1.5, 1500 * time.Millisecond},
		{"duration", time.Minute, time.Minute},
		{"bool", true, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"timeout": tt.value})
			assert.Equal(t, tt.want, cfg.Duration("timeout", 10*time.Second))
		})
	}

	assert.Equal(t, time.Second, config.New(nil).Duration("timeout", time.Second))
}

func TestInt(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"int", 42, 42},
		{"int64", int64(7), 7},
		{"uint8", uint8(3), 3},
		{"whole float", 100.0, 100},
		{"fractional float", 1.5, -1},
		{"string", "42", -1},
		{"bool", true, -1},
		{"nil", nil, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"n": tt.value})
			assert.Equal(t, tt.want, cfg.Int("n", -1))
		})
	}
}

func TestFloat(t *testing.T) {
	cfg := config.New(map[string]any{"f": 2.5, "i": 3, "s": "1.0", "b": false})

	assert.InDelta(t, 2.5, cfg.Float("f", 0), 1e-9)
	assert.InDelta(t, 3.0, cfg.Float("i", 0), 1e-9)
	assert.InDelta(t, 9.0, cfg.Float("s", 9), 1e-9)
	assert.InDelta(t, 9.0, cfg.Float("b", 9), 1e-9)
	assert.InDelta(t, 9.0, cfg.Float("missing", 9), 1e-9)
}

func TestBool(t *testing.T) {
	cfg := config.New(map[string]any{"on": true, "str": "true"})

	assert.True(t, cfg.Bool("on", false))
	assert.False(t, cfg.Bool("str", false))
	assert.True(t, cfg.Bool("missing", true))
}

func TestStringSlice(t *testing.T) {
	cfg := config.New(map[string]any{
		"typed":  []string{"a", "b"},
		"any":    []any{"x", "y"},
		"mixed":  []any{"x", 1},
		"scalar": "x",
	})

	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("typed", nil))
	assert.Equal(t, []string{"x", "y"}, cfg.StringSlice("any", nil))
	assert.Equal(t, []string{"d"}, cfg.StringSlice("mixed", []string{"d"}))
	assert.Equal(t, []string{"d"}, cfg.StringSlice("scalar", []string{"d"}))
	assert.Nil(t, cfg.StringSlice("missing", nil))
}

func TestSection(t *testing.T) {
	cfg := config.New(map[string]any{
		"bus":   map[string]any{"workers": 8},
		"loose": map[any]any{"workers": 2},
		"flat":  "nope",
	})

	assert.Equal(t, 8, cfg.Section("bus").Int("workers", 0))
	assert.Equal(t, 2, cfg.Section("loose").Int("workers", 0))
	assert.Empty(t, cfg.Section("flat").Raw())
	assert.Empty(t, cfg.Section("missing").Raw())
}

func TestSections(t *testing.T) {
	cfg := config.New(map[string]any{
		"processors": []any{
			map[string]any{"name": "a"},
			"skipped",
			map[string]any{"name": "b"},
		},
	})

	sections := cfg.Sections("processors")
	require.Len(t, sections, 2)
	assert.Equal(t, "a", sections[0].String("name", ""))
	assert.Equal(t, "b", sections[1].String("name", ""))
	assert.Nil(t, cfg.Sections("missing"))
}

func TestHasAndAny(t *testing.T) {
	cfg := config.New(map[string]any{"k": nil})

	assert.True(t, cfg.Has("k"))
	assert.False(t, cfg.Has("x"))
	assert.Nil(t, cfg.Any("k", "default"))
	assert.Equal(t, "default", cfg.Any("x", "default"))
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("bus:\n  workers: 6\nname: demo\n"), 0o600))
	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.String("name", ""))
	assert.Equal(t, 6, cfg.Section("bus").Int("workers", 0))

	jsonPath := filepath.Join(dir, "engine.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"bus": {"workers": 3}}`), 0o600))
	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Section("bus").Int("workers", 0))

	_, err = config.FromFile(filepath.Join(dir, "engine.toml"))
	assert.Error(t, err)

	tomlPath := filepath.Join(dir, "engine.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("x = 1"), 0o600))
	_, err = config.FromFile(tomlPath)
	assert.ErrorContains(t, err, "unsupported config file extension")
}

func TestFromYAML_Invalid(t *testing.T) {
	_, err := config.FromYAML([]byte("bus: [unclosed"))
	assert.Error(t, err)

	_, err = config.FromJSON([]byte("{"))
	assert.Error(t, err)
}
