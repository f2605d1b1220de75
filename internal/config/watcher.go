package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// debounceDelay collapses the burst of events an editor produces on save
const debounceDelay = 200 * time.Millisecond

// Watcher reloads a config file when it changes and notifies callbacks with
// the new config. Invalid edits are logged and the previous config stays in
// effect.
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	log       logrus.FieldLogger
	callbacks []func(*Config)
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.RWMutex
	running   bool
	current   *Config
	lastMod   time.Time
}

// NewWatcher creates a watcher for the file at path
func NewWatcher(path string, log logrus.FieldLogger) (*Watcher, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		path:    abs,
		watcher: fw,
		log:     log.WithField("config", abs),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// OnChange adds a callback invoked after every successful reload
func (w *Watcher) OnChange(cb func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Current returns the last successfully loaded config, nil before Start
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start loads the file once and begins watching its directory. Watching the
// directory keeps working when editors replace the file on save.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher is already running")
	}
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.current = cfg
	if stat, err := os.Stat(w.path); err == nil {
		w.lastMod = stat.ModTime()
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	w.running = true
	go w.loop()
	return nil
}

// Stop ends watching and waits for the loop to exit
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	err := w.watcher.Close()
	<-w.doneCh
	return err
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	stat, err := os.Stat(w.path)
	if err != nil {
		return
	}

	w.mu.Lock()
	if !w.running || !stat.ModTime().After(w.lastMod) {
		w.mu.Unlock()
		return
	}
	w.lastMod = stat.ModTime()
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		w.log.WithError(err).Warn("ignoring invalid config change")
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.log.WithField("providers", len(cfg.Providers)).Info("config reloaded")
	for _, cb := range callbacks {
		cb(cfg)
	}
}
