package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher on the manifest file loaded by the last
// Load call. When the file is written or recreated, the manifest is
// re-read; onReload is invoked with the fresh manifest only if it parsed
// and validated. A broken edit keeps the previous manifest active.
// Call StopWatch to clean up.
func (l *Loader) Watch(logger *slog.Logger, onReload func(m *Manifest)) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config.Loader")

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		return fmt.Errorf("no manifest loaded yet")
	}
	if l.watcher != nil {
		return fmt.Errorf("manifest watcher already running")
	}

	absPath, err := filepath.Abs(l.path)
	if err != nil {
		return fmt.Errorf("failed to resolve manifest path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory rather than the file to catch editor
	// rename-and-replace patterns (e.g. vim, nano).
	if err := w.Add(filepath.Dir(absPath)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	l.watcher = w
	l.watchDone = make(chan struct{})

	go l.watchLoop(w, l.watchDone, absPath, logger, onReload)

	logger.Info("watching manifest for changes", "path", absPath)
	return nil
}

func (l *Loader) watchLoop(w *fsnotify.Watcher, done chan struct{}, targetPath string, logger *slog.Logger, onReload func(*Manifest)) {
	defer close(done)

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			absEvent, _ := filepath.Abs(event.Name)
			if absEvent != targetPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := l.Reload(); err != nil {
					logger.Error("manifest changed but reload failed, keeping previous manifest",
						"path", targetPath, "error", err)
					continue
				}
				logger.Info("manifest reloaded", "path", targetPath)
				if onReload != nil {
					onReload(l.Get())
				}
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Error("fsnotify error", "error", err)
		}
	}
}

// StopWatch stops the manifest watcher, if running. The wait for the watch
// goroutine happens outside the lock because the goroutine itself takes the
// lock while reloading.
func (l *Loader) StopWatch() {
	l.mu.Lock()
	w, done := l.watcher, l.watchDone
	l.watcher = nil
	l.watchDone = nil
	l.mu.Unlock()

	if w != nil {
		_ = w.Close()
	}
	if done != nil {
		<-done
	}
}
