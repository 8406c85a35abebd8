// Package observer re-triggers work when watched workflow documents change.
package observer

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hochfrequenz/wfsync/internal/ctxlog"
)

// WorkflowChangeCallback is called once per changed document after the
// debounce window closes
type WorkflowChangeCallback func(path string)

// WorkflowWatcher monitors workflow documents for changes
type WorkflowWatcher struct {
	watcher  *fsnotify.Watcher
	callback WorkflowChangeCallback
	debounce time.Duration

	// Watched files and the directories holding them. Editors often save by
	// rename, so the directory is watched and events are filtered by file.
	files map[string]struct{}
	dirs  map[string]int

	// Debounce state
	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorkflowWatcher creates a new watcher for workflow documents
func NewWorkflowWatcher(callback WorkflowChangeCallback) (*WorkflowWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &WorkflowWatcher{
		watcher:  watcher,
		callback: callback,
		debounce: 500 * time.Millisecond, // Debounce rapid changes
		files:    make(map[string]struct{}),
		dirs:     make(map[string]int),
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Add starts watching a workflow document
func (ww *WorkflowWatcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	ww.mu.Lock()
	defer ww.mu.Unlock()

	if _, exists := ww.files[abs]; exists {
		return nil // Already watching
	}

	dir := filepath.Dir(abs)
	if ww.dirs[dir] == 0 {
		if err := ww.watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	ww.dirs[dir]++
	ww.files[abs] = struct{}{}
	return nil
}

// Remove stops watching a workflow document
func (ww *WorkflowWatcher) Remove(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	ww.mu.Lock()
	defer ww.mu.Unlock()

	if _, exists := ww.files[abs]; !exists {
		return
	}
	delete(ww.files, abs)
	delete(ww.pending, abs)

	dir := filepath.Dir(abs)
	ww.dirs[dir]--
	if ww.dirs[dir] <= 0 {
		delete(ww.dirs, dir)
		ww.watcher.Remove(dir)
	}
}

// Files returns the watched documents, sorted
func (ww *WorkflowWatcher) Files() []string {
	ww.mu.Lock()
	defer ww.mu.Unlock()

	out := make([]string, 0, len(ww.files))
	for f := range ww.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Start begins watching for file changes
func (ww *WorkflowWatcher) Start(ctx context.Context) {
	ctx, ww.cancel = context.WithCancel(ctx)
	logger := ctxlog.FromContext(ctx)

	go func() {
		defer close(ww.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ww.watcher.Events:
				if !ok {
					return
				}
				ww.handleEvent(event)
			case err, ok := <-ww.watcher.Errors:
				if !ok {
					return
				}
				// Log error but continue watching
				logger.WarnContext(ctx, "watch error", "error", err)
			}
		}
	}()
}

// Stop stops watching for file changes and drops pending notifications
func (ww *WorkflowWatcher) Stop() {
	if ww.cancel != nil {
		ww.cancel()
		<-ww.done
	}
	ww.mu.Lock()
	if ww.timer != nil {
		ww.timer.Stop()
	}
	ww.pending = make(map[string]struct{})
	ww.mu.Unlock()
	ww.watcher.Close()
}

func (ww *WorkflowWatcher) handleEvent(event fsnotify.Event) {
	// Writes, creates and rename-into-place all count as a change
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	name, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	ww.mu.Lock()
	defer ww.mu.Unlock()

	if _, watched := ww.files[name]; !watched {
		return
	}
	ww.pending[name] = struct{}{}

	// Reset or start debounce timer
	if ww.timer != nil {
		ww.timer.Stop()
	}
	ww.timer = time.AfterFunc(ww.debounce, ww.flush)
}

func (ww *WorkflowWatcher) flush() {
	ww.mu.Lock()
	// Copy pending state and clear
	pending := ww.pending
	ww.pending = make(map[string]struct{})
	ww.mu.Unlock()

	if ww.callback == nil {
		return
	}

	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		ww.callback(p)
	}
}

// SetDebounce sets the debounce duration for batching file changes
func (ww *WorkflowWatcher) SetDebounce(d time.Duration) {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	ww.debounce = d
}
