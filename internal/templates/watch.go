// Package templates hot-reloads HTML fragments during development.
//
// A Watcher observes a fragments directory and asks its Reloader to
// re-parse templates after edits settle. Production servers skip the
// watcher entirely and parse fragments once at startup.
package templates

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reloader re-parses templates from disk. Implemented by humastar.Renderer.
type Reloader interface {
	Reload() error
}

// Watcher reloads templates when fragment files change on disk.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	reloader  Reloader
	dir       string
	logger    *zap.Logger

	// debounce is how long a file must stay quiet before a reload fires.
	debounce time.Duration

	mu      sync.Mutex
	dirty   bool
	lastEvt time.Time
	reloads int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a watcher for *.html fragments under dir.
func NewWatcher(dir string, reloader Reloader, logger *zap.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("fragments directory must not be empty")
	}
	if reloader == nil {
		return nil, fmt.Errorf("reloader must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		reloader:  reloader,
		dir:       dir,
		logger:    logger,
		debounce:  300 * time.Millisecond,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching. It returns immediately; events are handled on a
// background goroutine until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating fragments directory: %w", err)
	}
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	w.logger.Info("template watcher started", zap.String("dir", w.dir))
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case evt, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(evt)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("template watcher error", zap.Error(err))
		case <-ticker.C:
			w.maybeReload()
		}
	}
}

func (w *Watcher) handleEvent(evt fsnotify.Event) {
	if !strings.HasSuffix(evt.Name, ".html") {
		return
	}
	if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	w.dirty = true
	w.lastEvt = time.Now()
	w.mu.Unlock()
}

// maybeReload fires the reload once events have settled.
func (w *Watcher) maybeReload() {
	w.mu.Lock()
	if !w.dirty || time.Since(w.lastEvt) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.dirty = false
	w.mu.Unlock()

	if err := w.reloader.Reload(); err != nil {
		w.logger.Warn("template reload failed", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.reloads++
	n := w.reloads
	w.mu.Unlock()

	w.logger.Info("templates reloaded", zap.Int64("count", n))
}

// Reloads reports how many successful reloads have run.
func (w *Watcher) Reloads() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	if err := w.fsWatcher.Close(); err != nil {
		w.logger.Warn("closing fsnotify watcher", zap.Error(err))
	}
}
