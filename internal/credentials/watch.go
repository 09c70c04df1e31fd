package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 200 * time.Millisecond

// Watch keeps the store current while ctx is alive by refreshing whenever
// config.vdf is written, created or removed.
func (s *Store) Watch(ctx context.Context) error {
	if err := os.MkdirAll(s.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	// The home is watched too so a removed and recreated config dir is picked up.
	if err := w.Add(s.home); err != nil {
		return fmt.Errorf("watch %s: %w", s.home, err)
	}
	if err := w.Add(s.ConfigDir()); err != nil {
		return fmt.Errorf("watch %s: %w", s.ConfigDir(), err)
	}

	if err := s.Refresh(); err != nil {
		s.log.Warn("initial refresh failed", "error", err)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Name == s.ConfigDir() && event.Has(fsnotify.Create) {
				if err := w.Add(s.ConfigDir()); err != nil {
					s.log.Warn("re-watch config dir failed", "error", err)
				}
			}
			if !s.relevant(event.Name) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, func() {
				if err := s.Refresh(); err != nil {
					s.log.Warn("refresh failed", "error", err)
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watch error", "error", err)
		}
	}
}

func (s *Store) relevant(name string) bool {
	return name == s.ConfigDir() || filepath.Base(name) == "config.vdf"
}
