// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/mediagrab/mediagrab/internal/log"
)

// Watch observes the config file and invokes onChange with each freshly
// loaded configuration. Only reload-safe settings (currently the log
// level) should be applied by the callback; structural settings need a
// restart. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(AppConfig)) error {
	logger := log.WithComponent("config.reload")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := watcher.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("failed to close config watcher")
		}
	}()

	// Watch the directory, not the file: editors and renameio-style
	// writers replace the inode on save.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	logger.Info().Str("path", target).Msg("config reload watcher started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.Warn().Err(err).Msg("config reload failed, keeping previous configuration")
				continue
			}
			logger.Info().Str("logLevel", cfg.LogLevel).Msg("config reloaded")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}
