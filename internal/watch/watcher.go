// Package watch rescans C sources as they change on disk.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cscan/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Handler is called once per settled file change.
type Handler func(ctx context.Context, path string)

// Options configures a Watcher.
type Options struct {
	// Debounce is how long a file must be quiet before Handler runs.
	Debounce time.Duration
	// Match selects files by path. Nil matches everything.
	Match func(path string) bool
	// SkipDir excludes directories (not the root) from watching. Nil skips none.
	SkipDir func(dir string) bool
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Dispatched    int
	DirsWatched   int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Watcher watches a directory tree and dispatches debounced file changes.
type Watcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	root    string
	handler Handler
	opts    Options
	pending map[string]time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	stopped bool
	stats   Stats
}

// New creates a Watcher for root. Start must be called to begin watching.
func New(root string, handler Handler, opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	return &Watcher{
		watcher: fw,
		root:    root,
		handler: handler,
		opts:    opts,
		pending: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start adds the tree under root and starts the event loop. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.Watch("watching %s (%d directories)", w.root, w.Stats().DirsWatched)

	go w.run(ctx)
	return nil
}

// Stop stops the loop, waits for it to exit and closes the fsnotify watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	wasRunning := w.running
	w.stopped = true
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	if wasRunning {
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		logging.WatchError("error closing watcher: %v", err)
	}
	logging.WatchDebug("watcher stopped")
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && w.opts.SkipDir != nil && w.opts.SkipDir(p) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			logging.WatchError("failed to watch %s: %v", p, err)
			return nil
		}
		w.mu.Lock()
		w.stats.DirsWatched++
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	interval := w.opts.Debounce / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.WatchDebug("context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WatchError("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.dispatchSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.opts.SkipDir == nil || !w.opts.SkipDir(event.Name) {
				if err := w.addTree(event.Name); err != nil {
					logging.WatchError("failed to watch new directory %s: %v", event.Name, err)
				}
			}
			return
		}
	case event.Op&fsnotify.Write != 0:
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.mu.Lock()
		delete(w.pending, event.Name)
		w.mu.Unlock()
		return
	default:
		return
	}

	if w.opts.Match != nil && !w.opts.Match(event.Name) {
		return
	}
	logging.WatchDebug("%s %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = time.Now()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) dispatchSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for p, at := range w.pending {
		if now.Sub(at) >= w.opts.Debounce {
			ready = append(ready, p)
			delete(w.pending, p)
		}
	}
	w.stats.Dispatched += len(ready)
	w.mu.Unlock()

	for _, p := range ready {
		w.handler(ctx, p)
	}
}
