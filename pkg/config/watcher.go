package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceInterval collapses the burst of events an editor emits
// when saving a file.
const DefaultDebounceInterval = 250 * time.Millisecond

// Watcher reloads the configuration file when it changes and hands the
// validated result to a callback. Invalid files are logged and ignored;
// the previous configuration stays in effect.
//
// The parent directory is watched rather than the file itself so that
// atomic saves (write temp, rename over) are seen.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(*Config) error
	logger   *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	running bool
}

// NewWatcher creates a watcher for the file at path. A zero interval uses
// DefaultDebounceInterval.
func NewWatcher(path string, interval time.Duration, onReload func(*Config) error) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path cannot be empty")
	}
	if onReload == nil {
		return nil, errors.New("reload callback cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	return &Watcher{
		path:     abs,
		interval: interval,
		onReload: onReload,
		logger:   slog.Default().With("component", "config.watcher"),
	}, nil
}

// Watch blocks until ctx is cancelled, reloading on every debounced change.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info("config watcher started",
		"path", w.path,
		"debounce_ms", w.interval.Milliseconds(),
	)

	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.running = false
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}

			w.logger.Debug("config file event", "path", event.Name, "op", event.Op.String())
			w.trigger()

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return name == w.path
}

func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.interval, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := ReloadConfig(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration", "error", err)
		return
	}

	if err := w.onReload(cfg); err != nil {
		w.logger.Error("failed to apply reloaded configuration", "error", err)
		return
	}

	w.logger.Info("configuration reloaded", "path", w.path)
}
