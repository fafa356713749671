package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// TaskFileWatcher reports raw filesystem changes to the task file. It
// watches the parent directory so atomic rename-based saves are seen.
// Callbacks are not debounced; the sync engine coalesces bursts.
type TaskFileWatcher struct {
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	callbacks []func()
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewTaskFileWatcher constructs a watcher for path. It does not start
// watching until Start is called.
func NewTaskFileWatcher(path string, logger *slog.Logger) (*TaskFileWatcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("task file path required")
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TaskFileWatcher{
		path:   filepath.Clean(path),
		logger: logger.With("component", "task-watcher"),
		stopCh: make(chan struct{}),
	}, nil
}

// OnChange registers a callback fired for every relevant file event.
func (w *TaskFileWatcher) OnChange(cb func()) {
	if cb == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching. Calling it on a running watcher is a no-op.
func (w *TaskFileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("creating task file watcher: %w", err)
	}
	w.watcher = fsWatcher
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		w.mu.Lock()
		w.watcher = nil
		w.mu.Unlock()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	go w.watchLoop(fsWatcher)
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				w.Stop()
			case <-w.stopCh:
			}
		}()
	}
	w.logger.Debug("watching task file", "path", w.path)
	return nil
}

// Stop terminates the watcher. It is safe to call more than once.
func (w *TaskFileWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.watcher != nil {
			_ = w.watcher.Close()
			w.watcher = nil
		}
		w.mu.Unlock()
	})
}

func (w *TaskFileWatcher) watchLoop(fsWatcher *fsnotify.Watcher) {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("task file watcher error", "error", err)
		}
	}
}

func (w *TaskFileWatcher) handleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if filepath.Clean(event.Name) != w.path {
		return
	}

	w.mu.Lock()
	cbs := append([]func(){}, w.callbacks...)
	w.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}
