// config_watcher.go
// Reloads the config file when it changes on disk.
package javacomplete

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

const configReloadDebounce = 300 * time.Millisecond

// ConfigReloadFunc receives the configuration re-read from disk.
type ConfigReloadFunc func(cfg Config) error

// ConfigWatcher watches a config file and calls onReload with the merged and
// validated configuration after each change. The parent directory is watched so
// editors that replace the file on save are seen.
type ConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload ConfigReloadFunc
	logger   *slog.Logger

	mu       sync.Mutex
	debounce *time.Timer
	done     chan struct{}
}

// WatchConfigFile starts watching path.
func WatchConfigFile(path string, onReload ConfigReloadFunc, logger *slog.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch config directory %s", dir)
	}

	cw := &ConfigWatcher{
		path:     filepath.Clean(path),
		watcher:  watcher,
		onReload: onReload,
		logger:   logger.With("component", "ConfigWatcher", "path", path),
		done:     make(chan struct{}),
	}
	go cw.watchLoop()
	cw.logger.Info("Watching config file for changes")
	return cw, nil
}

func (cw *ConfigWatcher) watchLoop() {
	defer close(cw.done)
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				cw.logger.Debug("Config file changed", "op", event.Op.String())
				cw.scheduleReload()
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("Config watcher error", "error", err)
		}
	}
}

func (cw *ConfigWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.debounce != nil {
		cw.debounce.Stop()
	}
	cw.debounce = time.AfterFunc(configReloadDebounce, func() {
		if err := cw.reload(); err != nil {
			cw.logger.Error("Config reload failed", "error", err)
		}
	})
}

// reload reads the file over the defaults, validates it and hands it on.
func (cw *ConfigWatcher) reload() error {
	cfg := getDefaultConfig()
	loaded, err := LoadAndMergeConfig(cw.path, &cfg, cw.logger)
	if err != nil {
		return errors.Mark(err, ErrConfig)
	}
	if !loaded {
		cw.logger.Debug("Config file absent or empty, keeping current configuration")
		return nil
	}
	if err := cfg.Validate(cw.logger); err != nil {
		return err
	}
	if cw.onReload == nil {
		return nil
	}
	if err := cw.onReload(cfg); err != nil {
		return errors.Wrap(err, "config reload callback")
	}
	cw.logger.Info("Config reloaded")
	return nil
}

// Close stops watching.
func (cw *ConfigWatcher) Close() error {
	cw.mu.Lock()
	if cw.debounce != nil {
		cw.debounce.Stop()
	}
	cw.mu.Unlock()
	err := cw.watcher.Close()
	<-cw.done
	return err
}
