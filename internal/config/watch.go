package config

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/dbgsync/internal/config/watcher"
	"github.com/dshills/dbgsync/internal/logflags"
	"github.com/dshills/dbgsync/internal/signal"
)

// DefaultReloadDebounce is how long the file must be quiet before a reload.
const DefaultReloadDebounce = 100 * time.Millisecond

// Watcher keeps settings current with their file.
type Watcher struct {
	path    string
	files   *watcher.Watcher
	changed *signal.Signal[*Settings]
	log     *logrus.Entry

	mu      sync.RWMutex
	current *Settings
}

// Watch loads path and starts reloading it on change. Reloads that fail
// keep the previous settings.
func Watch(path string, debounce time.Duration) (*Watcher, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}

	log := logflags.ConfigLogger().WithField("path", path)
	w := &Watcher{
		path:    path,
		changed: signal.New[*Settings](),
		log:     log,
		current: s,
	}
	w.files = watcher.New(
		watcher.WithDebounce(debounce),
		watcher.WithErrorHandler(func(err error) {
			log.WithError(err).Warn("watching config")
		}),
	)
	w.files.OnChange(w.onChange)
	if err := w.files.Watch(path); err != nil {
		return nil, err
	}
	if err := w.files.Start(); err != nil {
		return nil, err
	}
	return w, nil
}

// Current returns the latest successfully loaded settings.
func (w *Watcher) Current() *Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Changed emits the settings after every successful reload.
func (w *Watcher) Changed() *signal.Signal[*Settings] { return w.changed }

// Reload loads the file now.
func (w *Watcher) Reload() error {
	s, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = s
	w.mu.Unlock()
	w.changed.Emit(s)
	return nil
}

func (w *Watcher) onChange(ev watcher.Event) {
	if ev.Op == watcher.OpRemove || ev.Op == watcher.OpRename {
		w.log.WithField("op", ev.Op).Info("config file gone, keeping settings")
		return
	}
	if err := w.Reload(); err != nil {
		w.log.WithError(err).Warn("reloading config")
		return
	}
	w.log.Debug("config reloaded")
}

// Close stops watching.
func (w *Watcher) Close() {
	w.files.Stop()
	w.changed.DisconnectAll()
}
