package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the configuration file whenever it is written or replaced. Invalid files
// are logged and the previous configuration stays in place.
type Watcher struct {
	Filename string
	Store    *Store
	Logger   *zap.Logger

	// Load builds the effective configuration, usually the file on top of defaults with
	// command line overrides applied.
	Load func() (Config, error)

	// OnChange is called after a reload that changed the credential.
	OnChange func(Config)
}

func (w *Watcher) Watch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if w.Filename == "" || w.Store == nil || w.Load == nil {
		return errors.New("config watcher is not fully configured")
	}

	if w.Logger == nil {
		w.Logger = zap.NewNop()
	}

	w.Logger = w.Logger.With(zap.String("config_file", w.Filename))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Editors often replace the file, so the directory is watched instead of the file.
	if err := watcher.Add(filepath.Dir(w.Filename)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.Logger.Debug("Starting config watcher")
	defer w.Logger.Debug("Finishing config watcher")

	target := filepath.Clean(w.Filename)

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("events channel is closed")
			}

			if filepath.Clean(evt.Name) != target {
				continue
			}

			if evt.Op.Has(fsnotify.Write) || evt.Op.Has(fsnotify.Create) {
				w.reload()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("errors channel is closed")
			}

			w.Logger.Error("Config watcher error", zap.Error(err))

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.Load()
	if err != nil {
		w.Logger.Error("Failed to reload config, keeping the current one", zap.Error(err))
		return
	}

	if !w.Store.Set(cfg) {
		w.Logger.Debug("Config reloaded, credential unchanged")
		return
	}

	w.Logger.Info("Credential changed", zap.String("name", cfg.Name))

	if w.OnChange != nil {
		w.OnChange(cfg)
	}
}
