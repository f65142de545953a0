package service

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/edirooss/wavemix/internal/config"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ConfigWatcher re-reads the config file on change and hands topology
// changing configs to onChange. Edits that leave the topology as it is (feed
// cadence, pactl timeout) are ignored until the next restart.
type ConfigWatcher struct {
	log      *zap.Logger
	path     string
	debounce time.Duration
	onChange func(ctx context.Context, cfg *config.Config)

	mu      sync.Mutex
	current *config.Config
}

// NewConfigWatcher watches path; current is the config already applied.
func NewConfigWatcher(log *zap.Logger, path string, current *config.Config, debounce time.Duration, onChange func(ctx context.Context, cfg *config.Config)) *ConfigWatcher {
	if debounce <= 0 {
		debounce = 750 * time.Millisecond
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &ConfigWatcher{
		log:      log.Named("config_watch"),
		path:     path,
		debounce: debounce,
		onChange: onChange,
		current:  current,
	}
}

// Run watches until ctx is cancelled. The parent directory is watched so
// editors that replace the file by rename are seen.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}
	w.log.Info("watching config", zap.String("path", w.path))

	var t *time.Timer
	reset := func() {
		if t != nil {
			t.Stop()
		}
		t = time.AfterFunc(w.debounce, func() { w.reload(ctx) })
	}
	defer func() {
		if t != nil {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Name != w.path {
				continue
			}
			// Remove means the file is gone; wait for it to reappear.
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				reset()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

// reload loads the file and calls onChange when the topology differs. An
// invalid file keeps the running config.
func (w *ConfigWatcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	cfg, err := config.Load(w.path)
	if err != nil {
		w.log.Warn("config reload rejected", zap.Error(err))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil && w.current.SameTopology(cfg) {
		w.log.Debug("config changed without topology change")
		return
	}
	w.current = cfg
	w.log.Info("config changed, rebuilding", zap.Strings("channels", cfg.Audio.Channels))
	w.onChange(ctx, cfg)
}
