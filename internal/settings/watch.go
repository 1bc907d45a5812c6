package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceInterval groups the burst of events one save produces.
const DebounceInterval = 200 * time.Millisecond

// Watch reloads the file whenever it changes on disk and calls onChange with
// the new value. It blocks until ctx is done. Parse failures keep the previous
// value and are logged.
func (s *Store) Watch(ctx context.Context, onChange func(Settings)) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start settings watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic saves replace the file, which drops a
	// watch on the file itself.
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.logger.Debug("watching settings", "path", s.Path())

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		loaded, err := s.Load()
		if err != nil {
			return
		}
		s.logger.Info("settings reloaded", "path", s.Path())
		if onChange != nil {
			onChange(loaded)
		}
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != FileName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(DebounceInterval, func() {
				if ctx.Err() == nil {
					reload()
				}
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("settings watcher error", "error", err)
		}
	}
}
