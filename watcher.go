package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/fsnotify/fsnotify"
)

// WatcherManager reloads the roots when a unit source changes
type WatcherManager struct {
	watcher       *fsnotify.Watcher
	app           *App
	activeWatches map[string]bool        // watched directories
	debounceMap   map[string]*time.Timer // path -> debounce timer
	changed       *queue.Queue           // paths waiting for the next reload
	mu            sync.Mutex
	running       bool
}

// NewWatcherManager creates a new watcher manager
func NewWatcherManager(app *App) (*WatcherManager, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &WatcherManager{
		watcher:       watcher,
		app:           app,
		activeWatches: make(map[string]bool),
		debounceMap:   make(map[string]*time.Timer),
		changed:       queue.New(),
	}, nil
}

// Start begins watching the directories of all registered units
func (w *WatcherManager) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Start event handler goroutine
	go w.handleEvents()

	return w.refreshWatches()
}

// Stop stops all watching
func (w *WatcherManager) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.running = false

	// Cancel all debounce timers
	for _, timer := range w.debounceMap {
		timer.Stop()
	}
	w.debounceMap = make(map[string]*time.Timer)

	// Close watcher
	if w.watcher != nil {
		w.watcher.Close()
	}
}

// refreshWatches watches the directory of every registered unit and drops
// directories no unit lives in any more
func (w *WatcherManager) refreshWatches() error {
	shouldWatch := make(map[string]bool)
	for _, u := range w.app.Units() {
		shouldWatch[filepath.Dir(u.Identity)] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for dir := range w.activeWatches {
		if !shouldWatch[dir] {
			w.watcher.Remove(dir)
			delete(w.activeWatches, dir)
			log.Printf("Stopped watching: %s", dir)
		}
	}

	for dir := range shouldWatch {
		if !w.activeWatches[dir] {
			if err := w.watcher.Add(dir); err != nil {
				log.Printf("Failed to watch %s: %v", dir, err)
				continue
			}
			w.activeWatches[dir] = true
			log.Printf("Started watching: %s", dir)
		}
	}

	return nil
}

// handleEvents processes fsnotify events
func (w *WatcherManager) handleEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}

			w.debounceFile(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Watcher error: %v", err)
		}
	}
}

// relevant reports whether path is a unit source. Cache files and the
// hidden temporaries they are written through are ignored.
func (w *WatcherManager) relevant(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if filepath.Ext(base) != w.app.loader.Engine().Extension() {
		return false
	}
	info, err := os.Stat(path)
	return err != nil || !info.IsDir()
}

// debounceFile delays the reload until the file is stable
func (w *WatcherManager) debounceFile(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	// Cancel existing timer if any
	if timer, ok := w.debounceMap[path]; ok {
		timer.Stop()
	}

	w.debounceMap[path] = time.AfterFunc(w.app.cfg.Watch.Debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.changed.Add(path)
		w.mu.Unlock()

		w.flush()
	})
}

// flush drains the queued paths into a single reload of the roots. It
// returns the number of paths drained.
func (w *WatcherManager) flush() int {
	w.mu.Lock()
	var paths []string
	for w.changed.Length() > 0 {
		paths = append(paths, w.changed.Remove().(string))
	}
	w.mu.Unlock()

	if len(paths) == 0 {
		return 0
	}

	log.Printf("Reloading after changes to: %s", strings.Join(paths, ", "))
	if err := w.app.ReloadRoots(); err != nil {
		log.Printf("Warning: Reload failed: %v", err)
	}

	// Units may have moved or been added
	if err := w.refreshWatches(); err != nil {
		log.Printf("Warning: Failed to refresh watches: %v", err)
	}
	return len(paths)
}
