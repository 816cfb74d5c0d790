package core

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"kadmin/pkg/config"
)

const reloadDebounce = 100 * time.Millisecond

// ConfigWatcher reloads the config file when it changes and hands the result to onChange
type ConfigWatcher struct {
	path     string
	onChange func(*config.Config)
	logger   zerolog.Logger

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewConfigWatcher creates a watcher for path
func NewConfigWatcher(path string, onChange func(*config.Config)) *ConfigWatcher {
	return &ConfigWatcher{
		path:     path,
		onChange: onChange,
		logger:   GetLogger("config"),
		stopChan: make(chan struct{}),
	}
}

// Start begins watching. The parent directory is watched so editors that
// replace the file by rename are picked up too.
func (w *ConfigWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.watcher = watcher

	go w.watchLoop()
	w.logger.Info().Str("path", w.path).Msg("Watching configuration file")
	return nil
}

// Stop ends watching; pending reloads are dropped
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if w.watcher != nil {
			w.watcher.Close()
		}
		w.debounceMu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.debounceMu.Unlock()
	})
}

func (w *ConfigWatcher) watchLoop() {
	target := filepath.Clean(w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.debounceReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("File watcher error")

		case <-w.stopChan:
			return
		}
	}
}

// debounceReload collapses bursts of events into one reload
func (w *ConfigWatcher) debounceReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *ConfigWatcher) reload() {
	select {
	case <-w.stopChan:
		return
	default:
	}

	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("Configuration reload failed, keeping previous settings")
		return
	}
	w.logger.Info().Str("path", w.path).Msg("Configuration reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
