package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher loads a config file and reloads it when the file changes.
type Watcher struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	current  Config
	onChange []func(Config)
}

// NewWatcher creates a Watcher and performs the initial load.
// A nil logger uses slog.Default().
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{path: path, logger: logger.With(slog.String("config", path))}
	cfg, err := w.load()
	if err != nil {
		return nil, err
	}
	w.current = cfg
	return w, nil
}

// Config returns the latest configuration.
func (w *Watcher) Config() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after every successful reload.
func (w *Watcher) OnChange(fn func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// ReloadDelay is how long Watch waits after the last change to the file
// before reloading it. Editors often write a file in several steps.
const ReloadDelay = 100 * time.Millisecond

// Watch starts a goroutine that reloads the config on file changes.
// A reload that fails keeps the previous config.
// Call the returned stop function to clean up.
//
// The parent directory is watched rather than the file, so saves that
// replace the file by renaming a temporary over it keep being seen.
func (w *Watcher) Watch() (stop func(), err error) {
	if _, err := os.Stat(w.path); err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", dir, err)
	}

	target := filepath.Clean(w.path)
	done := make(chan struct{})
	go func() {
		defer fw.Close()

		timer := time.NewTimer(ReloadDelay)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					timer.Reset(ReloadDelay)
				}
			case <-timer.C:
				if _, err := w.Reload(); err != nil {
					w.logger.Warn("config reload failed", slog.String("error", err.Error()))
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config watcher error", slog.String("error", err.Error()))
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the file and notifies callbacks.
func (w *Watcher) Reload() (Config, error) {
	cfg, err := w.load()
	if err != nil {
		return Config{}, err
	}
	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	w.logger.Info("config reloaded")
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

// load rejects empty documents so a truncate-then-write never applies
// an all-defaults config.
func (w *Watcher) load() (Config, error) {
	cfg, err := FromFile(w.path)
	if err != nil {
		return Config{}, err
	}
	if len(cfg.Raw()) == 0 {
		return Config{}, fmt.Errorf("config %s is empty", w.path)
	}
	return cfg, nil
}
