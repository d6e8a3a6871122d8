// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watch delivers debounced file change events for watched repositories.
package watch

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/codesync/internal/model"
	"github.com/jeranaias/codesync/internal/scanner"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotWatching is returned when removing a path that was never added.
var ErrNotWatching = errors.New("path not watched")

// =============================================================================
// WATCHER
// =============================================================================

// Callback receives one debounced change event together with the name of
// the repository whose root contains the changed path.
type Callback func(event model.FileChangeEvent, repository string)

// Watcher coalesces raw file system events into per-path debounced
// notifications. A single fsnotify instance observes every registered
// repository root recursively, including directories created after
// watching began.
type Watcher struct {
	debounce time.Duration
	callback Callback

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	running bool
	roots   map[string]string // absolute repository root -> repository name
	timers  map[string]*time.Timer
	pending map[string]model.FileChangeEvent

	loopDone  chan struct{}
	callbacks sync.WaitGroup
}

// New creates a watcher that fires callback once per changed path after
// debounce of quiet time. The watcher is inert until Start is called.
func New(debounce time.Duration, callback Callback) *Watcher {
	return &Watcher{
		debounce: debounce,
		callback: callback,
		roots:    make(map[string]string),
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string]model.FileChangeEvent),
	}
}

// Start opens the underlying fsnotify instance and begins processing
// events for every registered repository. Calling Start on a running
// watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.fsw = fsw
	w.running = true
	w.loopDone = make(chan struct{})

	// Register roots added before Start.
	for root := range w.roots {
		if err := addRecursive(fsw, root); err != nil {
			log.Printf("watch: add %s: %v", root, err)
		}
	}

	go w.processEvents(fsw, w.loopDone)
	return nil
}

// Stop halts event processing, cancels every pending debounce timer, and
// waits for in-flight callbacks to finish. No callback fires after Stop
// returns. Calling Stop on a stopped watcher is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false

	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
		delete(w.pending, path)
	}

	fsw := w.fsw
	done := w.loopDone
	w.fsw = nil
	w.mu.Unlock()

	fsw.Close()
	<-done
	w.callbacks.Wait()
}

// AddRepository registers a repository root for watching. The path is
// watched recursively. Registering the same path twice updates the name.
func (w *Watcher) AddRepository(path, name string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.roots[abs] = name
	if !w.running {
		return nil
	}
	return addRecursive(w.fsw, abs)
}

// RemoveRepository stops watching a repository root.
func (w *Watcher) RemoveRepository(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.roots[abs]; !ok {
		return ErrNotWatching
	}
	delete(w.roots, abs)

	// Drop pending events under the removed root.
	for p, timer := range w.timers {
		if underRoot(p, abs) {
			timer.Stop()
			delete(w.timers, p)
			delete(w.pending, p)
		}
	}

	if w.running {
		// Removing a subdirectory that no longer exists is fine.
		for _, watched := range w.fsw.WatchList() {
			if underRoot(watched, abs) {
				w.fsw.Remove(watched)
			}
		}
	}
	return nil
}

// IsWatching reports whether path is a registered repository root.
func (w *Watcher) IsWatching(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.roots[abs]
	return ok
}

// Repositories returns the registered roots mapped to repository names.
func (w *Watcher) Repositories() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.roots))
	for root, name := range w.roots {
		out[root] = name
	}
	return out
}

// =============================================================================
// EVENT PROCESSING
// =============================================================================

// processEvents consumes raw fsnotify events until the watcher closes.
func (w *Watcher) processEvents(fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watch: %v", err)
		}
	}
}

// handleRaw classifies one raw event and restarts the debounce timer for
// its path.
func (w *Watcher) handleRaw(fsw *fsnotify.Watcher, event fsnotify.Event) {
	// New directories must be added to the watch list immediately so
	// files created inside them are observed.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !scanner.Excluded(filepath.Base(event.Name)) {
				if err := addRecursive(fsw, event.Name); err != nil {
					log.Printf("watch: add %s: %v", event.Name, err)
				}
			}
			return
		}
	}

	change, ok := classify(event.Op)
	if !ok || !model.IsCodeFile(event.Name) {
		return
	}

	ev := model.FileChangeEvent{
		Path: event.Name,
		Type: change,
		Time: time.Now(),
	}
	if change == model.ChangeMoved {
		// fsnotify reports only the old name on rename; downstream
		// treats a move as removal of the old path, and the matching
		// create event covers the destination.
		ev.OldPath = event.Name
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}

	// A fresh event for the path cancels and restarts its timer, so a
	// burst of rapid saves yields exactly one callback.
	if timer, ok := w.timers[event.Name]; ok {
		timer.Stop()
	}
	w.pending[event.Name] = ev
	w.timers[event.Name] = time.AfterFunc(w.debounce, func() {
		w.fire(event.Name)
	})
}

// fire delivers the pending event for path, if it is still pending.
func (w *Watcher) fire(path string) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	ev, ok := w.pending[path]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	delete(w.timers, path)

	repo, ok := w.resolveLocked(path)
	if !ok {
		w.mu.Unlock()
		return
	}
	w.callbacks.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.callbacks.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("watch: callback panic for %s: %v", path, r)
			}
		}()
		w.callback(ev, repo)
	}()
}

// resolveLocked maps a changed path to the repository whose root is its
// longest registered prefix. Nested roots resolve to the deepest match.
func (w *Watcher) resolveLocked(path string) (string, bool) {
	var bestRoot, bestName string
	for root, name := range w.roots {
		if underRoot(path, root) && len(root) > len(bestRoot) {
			bestRoot, bestName = root, name
		}
	}
	return bestName, bestRoot != ""
}

// =============================================================================
// HELPERS
// =============================================================================

// classify maps an fsnotify op to a change type. Chmod-only events are
// ignored.
func classify(op fsnotify.Op) (model.ChangeType, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return model.ChangeCreated, true
	case op&fsnotify.Write != 0:
		return model.ChangeModified, true
	case op&fsnotify.Remove != 0:
		return model.ChangeDeleted, true
	case op&fsnotify.Rename != 0:
		return model.ChangeMoved, true
	}
	return "", false
}

// addRecursive adds dir and every non-excluded subdirectory to the
// fsnotify instance. Unreadable subtrees are skipped.
func addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && scanner.Excluded(d.Name()) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			// Non-fatal, continue
			return nil
		}
		return nil
	})
}

// underRoot reports whether path equals root or lies beneath it.
func underRoot(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// sortedRoots returns the registered roots deepest-first. Used by tests
// to assert deterministic resolution order.
func (w *Watcher) sortedRoots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	roots := make([]string, 0, len(w.roots))
	for root := range w.roots {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return len(roots[i]) > len(roots[j]) })
	return roots
}
