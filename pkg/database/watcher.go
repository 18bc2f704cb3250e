package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay is the debounce window between a file change and the
// reload it triggers.
const DefaultReloadDelay = 500 * time.Millisecond

// ReloadFunc receives a database whose content changed on disk.
type ReloadFunc func(ctx context.Context, db *Database) error

// Watcher reloads a database file when it changes. Reloads that leave the
// digest unchanged are skipped.
type Watcher struct {
	path        string
	logger      zerolog.Logger
	reloadDelay time.Duration

	mu      sync.RWMutex
	current *Database
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for the database file at path.
func NewWatcher(path string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:        filepath.Clean(path),
		logger:      logger.With().Str("component", "database-watcher").Str("path", path).Logger(),
		reloadDelay: DefaultReloadDelay,
	}
}

// SetReloadDelay overrides the debounce window. It must be called before
// Watch.
func (w *Watcher) SetReloadDelay(d time.Duration) {
	w.reloadDelay = d
}

// Current returns the most recently loaded database.
func (w *Watcher) Current() *Database {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Watch loads the database, then watches its directory and calls reloadFn
// after each change that yields a valid database with a new digest. Invalid
// intermediate states are logged and keep the previous database. Watching
// stops when ctx is done or Stop is called.
func (w *Watcher) Watch(ctx context.Context, reloadFn ReloadFunc) (*Database, error) {
	db, err := Load(w.path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Editors often replace files by rename, which drops a watch on the file
	// itself, so the parent directory is watched instead.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.mu.Lock()
	w.current = db
	w.watcher = watcher
	w.mu.Unlock()

	go w.processEvents(ctx, watcher, reloadFn)

	w.logger.Info().Str("digest", shortDigest(db.Digest())).Msg("Started watching database")
	return db, nil
}

// processEvents processes file system events and triggers reloads.
func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, reloadFn ReloadFunc) {
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().Str("op", event.Op.String()).Msg("Database file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.reloadDelay, func() {
				if err := w.triggerReload(ctx, reloadFn); err != nil {
					w.logger.Error().Err(err).Msg("Failed to reload database")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// triggerReload loads the database and hands it to reloadFn when its digest
// changed.
func (w *Watcher) triggerReload(ctx context.Context, reloadFn ReloadFunc) error {
	if ctx.Err() != nil {
		return nil
	}

	db, err := Load(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	prev := w.current
	if prev != nil && prev.Digest() == db.Digest() {
		w.mu.Unlock()
		w.logger.Debug().Msg("Database content unchanged, skipping reload")
		return nil
	}
	w.current = db
	w.mu.Unlock()

	w.logger.Info().
		Str("digest", shortDigest(db.Digest())).
		Int("phases", len(db.PhaseNames())).
		Msg("Database reloaded")

	if reloadFn == nil {
		return nil
	}
	if err := reloadFn(ctx, db); err != nil {
		return fmt.Errorf("failed to apply reloaded database: %w", err)
	}
	return nil
}

// Stop stops watching for file changes.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	return err
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
