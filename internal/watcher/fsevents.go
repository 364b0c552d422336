package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the tree must stay quiet before a rebuild.
const DefaultDebounce = 2 * time.Second

// RebuildFunc is invoked after a burst of archive changes settles.
type RebuildFunc func(ctx context.Context) error

// Watcher rebuilds catalogs when archives appear or disappear under its
// roots. Subdirectories created after Start are added as they show up.
type Watcher struct {
	roots    []string
	rebuild  RebuildFunc
	logger   *slog.Logger
	Debounce time.Duration

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	rebuilds int
}

// New creates a Watcher for roots. Nothing is watched until Start.
func New(roots []string, rebuild RebuildFunc, logger *slog.Logger) (*Watcher, error) {
	if len(roots) == 0 {
		return nil, errors.New("no roots to watch")
	}
	if rebuild == nil {
		return nil, errors.New("rebuild callback cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		roots:    roots,
		rebuild:  rebuild,
		logger:   logger,
		Debounce: DefaultDebounce,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start subscribes to every directory below the roots and begins
// processing events. A root that does not exist yet is created.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	for _, root := range w.roots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			fsw.Close()
			return fmt.Errorf("failed to create %s: %w", root, err)
		}
		if err := addTree(fsw, root); err != nil {
			fsw.Close()
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}

	w.mu.Lock()
	w.fsw = fsw
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop halts the event loop, running any rebuild that was still pending.
// It is safe to call before Start.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.started = false
	w.mu.Unlock()
	if !started {
		return nil
	}

	close(w.stopCh)
	w.wg.Wait()
	return w.fsw.Close()
}

// Rebuilds reports how many times the callback has run.
func (w *Watcher) Rebuilds() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rebuilds
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending bool
	)
	arm := func() {
		pending = true
		if timer == nil {
			timer = time.NewTimer(w.Debounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.Debounce)
		}
		fire = timer.C
	}

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.handle(ev) {
				arm()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		case <-fire:
			fire = nil
			pending = false
			w.runRebuild(ctx)
		case <-ctx.Done():
			return
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			if pending {
				w.runRebuild(ctx)
			}
			return
		}
	}
}

// handle reports whether ev should trigger a rebuild. New directories are
// subscribed before returning so archives written into them are seen.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err == nil && info.IsDir() {
			if err := addTree(w.fsw, ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
			return true
		}
		return isArchive(ev.Name)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// The path is gone, so a removed directory cannot be told apart
		// from a removed file.
		return true
	case ev.Has(fsnotify.Write):
		return isArchive(ev.Name)
	}
	return false
}

func (w *Watcher) runRebuild(ctx context.Context) {
	w.logger.Debug("rebuilding catalog")
	if err := w.rebuild(ctx); err != nil {
		w.logger.Warn("catalog rebuild failed", "error", err)
	}
	w.mu.Lock()
	w.rebuilds++
	w.mu.Unlock()
}

func isArchive(p string) bool {
	return strings.Contains(filepath.Base(p), ".tar")
}

func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// A directory removed mid-walk is not an error.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return fsw.Add(p)
	})
}
