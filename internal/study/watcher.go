package study

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces the event bursts editors produce per save.
const DefaultDebounce = 100 * time.Millisecond

// Watcher observes the plugin root for add/change/remove of study
// sources and reconciles the loader and registry without a restart.
// It performs the filesystem phase only: activation decisions travel
// to the coordinator as ReintegrationRequests, so a watcher callback
// never mutates runtime context.
type Watcher struct {
	mu sync.Mutex

	fsw *fsnotify.Watcher

	loader *Loader
	logger zerolog.Logger

	reint chan<- ReintegrationRequest

	ext      string
	debounce time.Duration

	// Debounce state: latest ops and the timer that flushes them.
	pendingOps map[string]fsnotify.Op
	timers     map[string]*time.Timer

	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
	started bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the event debounce interval.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a watcher reconciling through the given loader and
// emitting reintegration requests on reint.
func NewWatcher(loader *Loader, reint chan<- ReintegrationRequest, logger zerolog.Logger, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:        fsw,
		loader:     loader,
		logger:     logger.With().Str("component", "watcher").Logger(),
		reint:      reint,
		ext:        loader.ext,
		debounce:   DefaultDebounce,
		pendingOps: make(map[string]fsnotify.Op),
		timers:     make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start watches the plugin root recursively and begins processing.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	err := filepath.WalkDir(w.loader.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		return &DiscoveryError{Root: w.loader.Root(), Err: err}
	}

	w.started = true
	w.wg.Add(1)
	go w.processLoop()

	w.logger.Info().Str("root", w.loader.Root()).Msg("watching study root")
	return nil
}

// Close stops watching and waits for the event loop to exit. Pending
// debounce timers are cancelled; their events are lost, which is fine
// because the next explicit reload rescans from disk anyway.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
		delete(w.pendingOps, path)
	}
	started := w.started
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	if started {
		w.wg.Wait()
	}
	return err
}

// processLoop drains fsnotify events until closed.
func (w *Watcher) processLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.onEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watch error")
		}
	}
}

// onEvent filters and debounces a raw filesystem event.
func (w *Watcher) onEvent(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return // chmod-only events carry no content change
	}

	// New directories join the watch set; any sources already inside
	// them load as adds.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.logger.Warn().Err(err).Str("path", ev.Name).Msg("failed to watch new directory")
			}
			w.loadExisting(ev.Name)
			return
		}
	}

	if !strings.EqualFold(filepath.Ext(ev.Name), w.ext) {
		return
	}
	w.schedule(ev.Name, ev.Op)
}

// loadExisting registers sources already present in a newly created
// directory (they may have been written before the watch was added).
func (w *Watcher) loadExisting(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := filepath.Join(dir, entry.Name())
		if strings.EqualFold(filepath.Ext(name), w.ext) {
			w.schedule(name, fsnotify.Create)
		}
	}
}

// schedule accumulates ops for a path and (re)arms its debounce timer.
func (w *Watcher) schedule(path string, op fsnotify.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	w.pendingOps[path] |= op
	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.flush(path)
	})
}

// flush reconciles the accumulated ops for one path.
func (w *Watcher) flush(path string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	op := w.pendingOps[path]
	delete(w.pendingOps, path)
	delete(w.timers, path)
	w.mu.Unlock()

	id := DeriveID(path)

	// A remove followed by nothing, or a file that no longer exists,
	// unregisters. Editors that save via rename-replace land in the
	// reload branch because the file is back on disk by now.
	if _, err := os.Stat(path); err != nil {
		if op&(fsnotify.Remove|fsnotify.Rename) != 0 || os.IsNotExist(err) {
			w.logger.Info().Str("study", id).Msg("source removed")
			w.loader.Remove(id)
		}
		return
	}

	_, known := w.loader.Descriptor(id)
	if !known {
		// Add: register dormant; the coordinator decides activation.
		if _, err := w.loader.LoadFile(path); err == nil {
			w.logger.Info().Str("study", id).Msg("source added")
		}
		return
	}

	// Change: drop the prior instance, reload from disk, re-register,
	// then hand the activation decision to the coordinator.
	w.loader.Remove(id)
	if _, err := w.loader.LoadFile(path); err != nil {
		return // recorded in loading status by the loader
	}

	w.logger.Info().Str("study", id).Msg("source changed, requesting reintegration")
	select {
	case w.reint <- ReintegrationRequest{ID: id}:
	default:
		w.logger.Warn().Str("study", id).Msg("reintegration queue full, request dropped")
	}
}
