// Package watcher turns file-system notifications under a vault root into
// index tasks.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/models"
	"github.com/starford/semdex/internal/storage"
)

// resyncDelay debounces the resync that follows renames and directory removals.
const resyncDelay = 200 * time.Millisecond

// EventType is the kind of a change notification.
type EventType string

// Event types.
const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
)

// Event is a change notification for vault-relative slash paths.
type Event struct {
	Type  EventType
	Paths []string
}

// Translate maps a change notification to index tasks. Creations and
// modifications become upserts; deletions become deletes.
func Translate(ev Event) []models.Task {
	op := models.OpUpsert
	switch ev.Type {
	case EventCreate, EventModify:
	case EventDelete:
		op = models.OpDelete
	default:
		return nil
	}
	tasks := make([]models.Task, 0, len(ev.Paths))
	for _, p := range ev.Paths {
		if p == "" || hidden(p) {
			continue
		}
		tasks = append(tasks, models.Task{Op: op, RelativePath: p})
	}
	return tasks
}

// Sink receives tasks. *queue.Queue satisfies it.
type Sink interface {
	Push(t models.Task) bool
}

// Option configures Watch.
type Option func(*watchOpts)

type watchOpts struct {
	logger   *slog.Logger
	filter   func(rel string) bool
	onResync func()
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *watchOpts) { o.logger = l }
}

// WithFilter drops create and modify notifications for paths it rejects.
// Deletions always pass so stale entries can be removed.
func WithFilter(fn func(rel string) bool) Option {
	return func(o *watchOpts) { o.filter = fn }
}

// WithResync registers a callback run after renames and directory removals
// settle. fsnotify reports only the old name of a renamed directory, so the
// files below it must be found by a full comparison.
func WithResync(fn func()) Option {
	return func(o *watchOpts) { o.onResync = fn }
}

// RootOf returns the directory to watch for p. Providers that are not backed
// by a local directory cannot be watched.
func RootOf(p storage.Provider) (string, error) {
	r, ok := p.(storage.Rooted)
	if !ok {
		return "", fmt.Errorf("watcher: provider has no local root: %w", apperr.ErrCapabilityMissing)
	}
	return r.Root(), nil
}

// Watch subscribes to changes under root and pushes the resulting tasks into
// sink until ctx is cancelled. Directories created at runtime are watched
// and their files enqueued.
func Watch(ctx context.Context, root string, sink Sink, opts ...Option) error {
	o := watchOpts{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	logger.Info("watcher: started", slog.String("root", root))

	var resyncTimer *time.Timer
	var resyncCh <-chan time.Time
	scheduleResync := func() {
		if o.onResync == nil {
			return
		}
		if resyncTimer == nil {
			resyncTimer = time.NewTimer(resyncDelay)
			resyncCh = resyncTimer.C
		} else {
			resyncTimer.Reset(resyncDelay)
		}
	}

	deliver := func(ev Event) {
		for _, t := range Translate(ev) {
			if t.Op == models.OpUpsert && o.filter != nil && !o.filter(t.RelativePath) {
				continue
			}
			if !sink.Push(t) {
				logger.Warn("watcher: task dropped", slog.String("path", t.RelativePath))
				scheduleResync()
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			if resyncTimer != nil {
				resyncTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-resyncCh:
			o.onResync()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			rel = filepath.ToSlash(rel)
			if hidden(rel) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", rel))
					}
					deliver(Event{Type: EventCreate, Paths: filesUnder(root, ev.Name)})
					continue
				}
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				deliver(Event{Type: EventCreate, Paths: []string{rel}})
			case ev.Op&fsnotify.Write != 0:
				deliver(Event{Type: EventModify, Paths: []string{rel}})
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// The new name of a rename arrives as its own Create event.
				deliver(Event{Type: EventDelete, Paths: []string{rel}})
				if ev.Op&fsnotify.Rename != 0 || filepath.Ext(rel) == "" {
					scheduleResync()
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// filesUnder lists the visible regular files below dir as vault-relative paths.
func filesUnder(root, dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if rel, relErr := filepath.Rel(root, p); relErr == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its visible subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

// hidden reports whether any element of the slash path starts with a dot.
func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
