package config_test

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventengine/pkg/eventengine/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	writeFile(t, path, "store:\n  max_events: 10\n")

	w, err := config.NewWatcher(path, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 10, w.Config().Section("store").Int("max_events", 0))
}

func TestWatcher_MissingOrEmptyFile(t *testing.T) {
	dir := t.TempDir()

	_, err := config.NewWatcher(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	writeFile(t, empty, "")
	_, err = config.NewWatcher(empty, nil)
	assert.ErrorContains(t, err, "empty")
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	writeFile(t, path, "store:\n  max_events: 10\n")

	w, err := config.NewWatcher(path, quietLogger())
	require.NoError(t, err)

	var seen atomic.Int64
	w.OnChange(func(c config.Config) {
		seen.Store(int64(c.Section("store").Int("max_events", 0)))
	})

	writeFile(t, path, "store:\n  max_events: 20\n")
	cfg, err := w.Reload()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Section("store").Int("max_events", 0))
	assert.Equal(t, int64(20), seen.Load())

	writeFile(t, path, "store: [broken")
	_, err = w.Reload()
	assert.Error(t, err)
	assert.Equal(t, 20, w.Config().Section("store").Int("max_events", 0), "failed reload keeps previous config")
}

func TestWatcher_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	writeFile(t, path, "store:\n  max_events: 10\n")

	w, err := config.NewWatcher(path, quietLogger())
	require.NoError(t, err)

	var seen atomic.Int64
	w.OnChange(func(c config.Config) {
		if n := c.Section("store").Int("max_events", 0); n > 0 {
			seen.Store(int64(n))
		}
	})

	stop, err := w.Watch()
	require.NoError(t, err)
	defer stop()

	writeFile(t, path, "store:\n  max_events: 42\n")

	require.Eventually(t, func() bool {
		return seen.Load() == 42
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 42, w.Config().Section("store").Int("max_events", 0))

	stop()
	stop()
}

func TestWatcher_WatchSurvivesRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	writeFile(t, path, "store:\n  max_events: 10\n")

	w, err := config.NewWatcher(path, quietLogger())
	require.NoError(t, err)

	var seen atomic.Int64
	w.OnChange(func(c config.Config) {
		seen.Store(int64(c.Section("store").Int("max_events", 0)))
	})

	stop, err := w.Watch()
	require.NoError(t, err)
	defer stop()

	// Save the way vim does: write a sibling, then rename it over the file.
	replace := func(n int) {
		tmp := filepath.Join(dir, ".engine.yaml.swp")
		writeFile(t, tmp, fmt.Sprintf("store:\n  max_events: %d\n", n))
		require.NoError(t, os.Rename(tmp, path))
	}

	replace(77)
	require.Eventually(t, func() bool { return seen.Load() == 77 }, 2*time.Second, 10*time.Millisecond)

	replace(88)
	require.Eventually(t, func() bool { return seen.Load() == 88 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_WatchDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	writeFile(t, path, "store:\n  max_events: 1\n")

	w, err := config.NewWatcher(path, quietLogger())
	require.NoError(t, err)

	var reloads, last atomic.Int64
	w.OnChange(func(c config.Config) {
		reloads.Add(1)
		last.Store(int64(c.Section("store").Int("max_events", 0)))
	})

	stop, err := w.Watch()
	require.NoError(t, err)
	defer stop()

	for n := 2; n <= 6; n++ {
		writeFile(t, path, fmt.Sprintf("store:\n  max_events: %d\n", n))
	}
	// Sibling files in the watched directory are ignored.
	writeFile(t, filepath.Join(dir, "other.yaml"), "store:\n  max_events: 999\n")

	require.Eventually(t, func() bool { return last.Load() == 6 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(2 * config.ReloadDelay)
	assert.Less(t, reloads.Load(), int64(5))
	assert.Equal(t, int64(6), last.Load())
}

func TestWatcher_WatchMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	writeFile(t, path, "a: 1\n")

	w, err := config.NewWatcher(path, quietLogger())
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = w.Watch()
	assert.Error(t, err)
}
