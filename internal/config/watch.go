package config

import (
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from its source file on write/create events and
// applies the new values in place via ReplaceFrom, so every holder of the
// original *Config pointer observes the update without a restart. Shaped on
// lookup.GeoIP's fsnotify watch loop (watch one file, reload on Write|Create,
// close the done channel when the watcher's Events channel closes).
type Watcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
}

// WatchFile starts watching path for changes and reloads cfg in place on
// each write. A config file that doesn't exist yet is not watched -- there
// is nothing to reload from, and fsnotify can't watch a path that doesn't
// exist -- WatchFile returns (nil, nil) in that case.
func WatchFile(path string, cfg *Config) (*Watcher, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, err
	}

	watcher := &Watcher{w: w, done: make(chan struct{})}
	go watcher.loop(path, cfg)
	return watcher, nil
}

func (watcher *Watcher) loop(path string, cfg *Config) {
	defer close(watcher.done)
	for {
		select {
		case ev, ok := <-watcher.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reloaded, err := Load(path)
			if err != nil {
				slog.Warn("config: reload failed, keeping previous values", "path", path, "error", err)
				continue
			}
			cfg.ReplaceFrom(reloaded)
			slog.Info("config: reloaded from disk", "path", path)
		case err, ok := <-watcher.w.Errors:
			if !ok {
				return
			}
			slog.Warn("config: watcher error", "error", err)
		}
	}
}

// Close stops the watcher and waits for its loop goroutine to exit.
func (watcher *Watcher) Close() {
	_ = watcher.w.Close()
	<-watcher.done
}
