// Package watch implements the file-watch engine: per-module recursive
// file hashing plus fsnotify watches, coalescing rapid change bursts
// before emitting a ModuleChanged event. Content hashes gate the
// events, so touched-but-unchanged files stay silent.
package watch

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AntelopeJS/antelopejs-sub000/internal/errs"
	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
	"github.com/AntelopeJS/antelopejs-sub000/pkg/logging"
)

const defaultDebounce = 300 * time.Millisecond

var excludedDirNames = map[string]bool{".git": true, "node_modules": true}

// ModuleChanged is emitted once per module per debounce window when any
// of its watched files changed or were deleted.
type ModuleChanged struct {
	ModuleID model.ModuleID
}

type moduleWatch struct {
	dirs   []string
	hashes map[string]string // absolute file path -> sha256 hex
}

// Engine watches every registered module's watch directories and emits
// ModuleChanged events on Events.
type Engine struct {
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	modules map[model.ModuleID]*moduleWatch
	// dirOwner maps a scanned directory to its owning module, used for
	// caller identification of a modified path (walk parents until a
	// scanned directory is found).
	dirOwner map[string]model.ModuleID

	debounce  time.Duration
	pending   map[model.ModuleID]*time.Timer
	pendingMu sync.Mutex

	Events chan ModuleChanged

	stopCh chan struct{}
}

// New returns an Engine with the given debounce window (0 -> 300ms
// default).
func New(debounce time.Duration) *Engine {
	if debounce == 0 {
		debounce = defaultDebounce
	}
	return &Engine{
		modules:  make(map[model.ModuleID]*moduleWatch),
		dirOwner: make(map[string]model.ModuleID),
		debounce: debounce,
		pending:  make(map[model.ModuleID]*time.Timer),
		Events:   make(chan ModuleChanged, 64),
		stopCh:   make(chan struct{}),
	}
}

// Start creates the underlying fsnotify watcher and begins the event
// loop. Call AddModule for each watchable module before or after Start.
func (e *Engine) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	e.watcher = w
	go e.loop()
	return nil
}

// AddModule scans dirs recursively (skipping .git/node_modules), hashes
// every file, installs a watch on every scanned directory, and records
// moduleID as the owner of each.
func (e *Engine) AddModule(moduleID model.ModuleID, dirs []string) error {
	mw := &moduleWatch{dirs: dirs, hashes: make(map[string]string)}

	for _, root := range dirs {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if excludedDirNames[d.Name()] && path != root {
					return filepath.SkipDir
				}
				if e.watcher != nil {
					if err := e.watcher.Add(path); err != nil {
						logging.Warn("WatchEngine", "failed to watch %s: %v", path, err)
					}
				}
				e.mu.Lock()
				e.dirOwner[filepath.Clean(path)] = moduleID
				e.mu.Unlock()
				return nil
			}
			sum, err := hashFile(path)
			if err != nil {
				return nil
			}
			mw.hashes[path] = sum
			return nil
		})
		if err != nil {
			return errs.WatchErr(string(moduleID), "scanning "+root, err)
		}
	}

	e.mu.Lock()
	e.modules[moduleID] = mw
	e.mu.Unlock()
	return nil
}

// RemoveModule stops tracking moduleID; its directories are left watched
// by fsnotify (harmless, since events for them will no longer map to a
// dirOwner entry and will be dropped) until Stop is called.
func (e *Engine) RemoveModule(moduleID model.ModuleID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.modules, moduleID)
	for dir, owner := range e.dirOwner {
		if owner == moduleID {
			delete(e.dirOwner, dir)
		}
	}
}

func (e *Engine) loop() {
	for {
		select {
		case <-e.stopCh:
			return
		case ev, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			e.handleEvent(ev)
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("WatchEngine", err, "filesystem watcher error")
		}
	}
}

func (e *Engine) handleEvent(ev fsnotify.Event) {
	owner, path, ok := e.ownerOf(ev.Name)
	if !ok {
		return
	}

	e.mu.Lock()
	mw := e.modules[owner]
	e.mu.Unlock()
	if mw == nil {
		return
	}

	deleted := ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	changed := false

	if deleted {
		e.mu.Lock()
		if _, existed := mw.hashes[path]; existed {
			delete(mw.hashes, path)
			changed = true
		}
		e.mu.Unlock()
	} else {
		sum, err := hashFile(path)
		if err != nil {
			// File vanished between the event firing and the read; treat
			// as a deletion.
			e.mu.Lock()
			if _, existed := mw.hashes[path]; existed {
				delete(mw.hashes, path)
				changed = true
			}
			e.mu.Unlock()
		} else {
			e.mu.Lock()
			prev, existed := mw.hashes[path]
			mw.hashes[path] = sum
			e.mu.Unlock()
			changed = !existed || prev != sum
		}
	}

	if changed {
		e.debounceEmit(owner)
	}
}

// ownerOf walks parents of changed path until a scanned directory is
// found, matching the caller-identification rule: an event on a path not
// under any scanned tree is dropped silently.
func (e *Engine) ownerOf(path string) (model.ModuleID, string, bool) {
	clean := filepath.Clean(path)
	dir := filepath.Dir(clean)
	e.mu.RLock()
	defer e.mu.RUnlock()
	for {
		if owner, ok := e.dirOwner[dir]; ok {
			return owner, clean, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", false
		}
		dir = parent
	}
}

func (e *Engine) debounceEmit(moduleID model.ModuleID) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	if t, ok := e.pending[moduleID]; ok {
		t.Stop()
	}
	e.pending[moduleID] = time.AfterFunc(e.debounce, func() {
		e.pendingMu.Lock()
		delete(e.pending, moduleID)
		e.pendingMu.Unlock()

		select {
		case e.Events <- ModuleChanged{ModuleID: moduleID}:
		default:
			logging.Warn("WatchEngine", "event channel full, dropping change event for %s", moduleID)
		}
	})
}

// Stop cancels all pending debounce timers and closes the watcher.
func (e *Engine) Stop() error {
	close(e.stopCh)
	e.pendingMu.Lock()
	for _, t := range e.pending {
		t.Stop()
	}
	e.pending = make(map[model.ModuleID]*time.Timer)
	e.pendingMu.Unlock()
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
