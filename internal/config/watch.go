package config

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "verdictbot/pkg/logx"
)

// Watch reloads the config when the file changes and calls onChange with
// each successfully parsed revision. Invalid revisions are logged and
// skipped; the previous config stays in effect.
//
// The parent directory is watched (not the file) so editor rename-and-swap
// saves are caught. Bursts of write events are debounced.
func Watch(ctx context.Context, path string, log logx.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}

	var lastSum [sha256.Size]byte
	if b, err := os.ReadFile(path); err == nil {
		lastSum = sha256.Sum256(b)
	}

	go func() {
		defer w.Close()

		var debounce *time.Timer
		fire := make(chan struct{}, 1)

		reload := func() {
			b, err := os.ReadFile(path)
			if err != nil {
				log.Warn("config reload: read failed", logx.Err(err))
				return
			}
			sum := sha256.Sum256(b)
			if sum == lastSum {
				return
			}
			cfg, err := parse(b)
			if err != nil {
				log.Warn("config reload rejected", logx.Err(err))
				return
			}
			lastSum = sum
			log.Info("config reloaded")
			onChange(cfg)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-fire:
				reload()
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", logx.Err(err))
			}
		}
	}()
	return nil
}
