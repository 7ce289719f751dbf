package study

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	slua "github.com/tickfolio/studyhost/internal/study/lua"
)

// DefaultSourceExt is the extension discovery filters on.
const DefaultSourceExt = ".lua"

// Loader enumerates study sources under a configured root, evaluates
// them in the sandbox, validates the result and registers successes.
// Every per-file failure is caught and recorded against that file's id;
// a LoadAll pass never fails outward.
type Loader struct {
	mu sync.Mutex

	root string
	ext  string

	logger   zerolog.Logger
	metrics  *Metrics
	registry *Registry

	capabilities []slua.Capability

	descriptors map[string]*Descriptor
	status      LoadingStatus
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSourceExt overrides the source file extension filter.
func WithSourceExt(ext string) LoaderOption {
	return func(l *Loader) {
		l.ext = ext
	}
}

// WithLoaderCapabilities overrides the capability grant passed to the
// sandbox for every evaluated study.
func WithLoaderCapabilities(caps ...slua.Capability) LoaderOption {
	return func(l *Loader) {
		l.capabilities = caps
	}
}

// NewLoader creates a loader rooted at root, registering into registry.
func NewLoader(root string, registry *Registry, logger zerolog.Logger, metrics *Metrics, opts ...LoaderOption) *Loader {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	l := &Loader{
		root:         root,
		ext:          DefaultSourceExt,
		logger:       logger.With().Str("component", "loader").Logger(),
		metrics:      metrics,
		registry:     registry,
		capabilities: slua.DefaultCapabilities(),
		descriptors:  make(map[string]*Descriptor),
		status:       newLoadingStatus(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Root returns the configured plugin root.
func (l *Loader) Root() string {
	return l.root
}

// LoadAll discovers and loads every source file under the root,
// recursively. It never returns an error: a missing or unreadable root
// is logged and yields an empty set; per-file failures are recorded in
// the returned status and leave other files unaffected.
func (l *Loader) LoadAll() LoadingStatus {
	paths, err := l.discover()
	if err != nil {
		l.logger.Warn().Err(err).Msg("study discovery failed")
	}

	for _, path := range paths {
		if _, err := l.LoadFile(path); err != nil {
			// Recorded against the file id inside LoadFile.
			continue
		}
	}

	return l.Status()
}

// ReloadAll destroys every currently registered study, clears all
// loader state, then re-runs discovery. No duplicate or stale
// registration survives a reload.
func (l *Loader) ReloadAll() LoadingStatus {
	l.registry.DestroyAll()

	l.mu.Lock()
	l.descriptors = make(map[string]*Descriptor)
	l.status = newLoadingStatus()
	l.mu.Unlock()

	return l.LoadAll()
}

// LoadFile reads, evaluates, validates and registers a single source
// file. The returned id is derived from the path even on failure so
// callers can correlate errors.
func (l *Loader) LoadFile(path string) (string, error) {
	id := DeriveID(path)

	source, err := os.ReadFile(path)
	if err != nil {
		l.recordFailure(id, err)
		return id, err
	}

	mod, err := slua.Evaluate(string(source), id,
		slua.WithCapabilities(l.capabilities...),
		slua.WithPrint(l.printFunc(id)),
	)
	if err != nil {
		l.recordFailure(id, err)
		return id, err
	}

	st, err := Adapt(mod)
	if err != nil {
		mod.Close()
		l.recordFailure(id, err)
		return id, err
	}

	l.registry.Register(id, st)

	l.mu.Lock()
	l.descriptors[id] = &Descriptor{
		ID:         id,
		SourcePath: path,
		LoadedAt:   time.Now(),
		RawSource:  string(source),
	}
	delete(l.status.Errors, id)
	l.status.ErrorCount = len(l.status.Errors)
	if !slices.Contains(l.status.LoadedIDs, id) {
		l.status.recordLoaded(id)
	}
	l.mu.Unlock()

	l.metrics.StudiesLoaded.Inc()
	l.logger.Info().Str("study", id).Str("path", path).Msg("study loaded")
	return id, nil
}

// Remove unregisters a study and forgets its descriptor.
func (l *Loader) Remove(id string) {
	l.registry.Unregister(id)

	l.mu.Lock()
	delete(l.descriptors, id)
	delete(l.status.Errors, id)
	l.status.ErrorCount = len(l.status.Errors)
	for i, loaded := range l.status.LoadedIDs {
		if loaded == id {
			l.status.LoadedIDs = append(l.status.LoadedIDs[:i], l.status.LoadedIDs[i+1:]...)
			break
		}
	}
	l.status.LoadedCount = len(l.status.LoadedIDs)
	l.mu.Unlock()

	l.logger.Info().Str("study", id).Msg("study removed")
}

// Descriptor returns the descriptor for a loaded id.
func (l *Loader) Descriptor(id string) (*Descriptor, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.descriptors[id]
	return d, ok
}

// Status returns a copy of the current loading status.
func (l *Loader) Status() LoadingStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status.clone()
}

// discover walks the root and returns candidate source paths sorted by
// path, so load order is deterministic.
func (l *Loader) discover() ([]string, error) {
	var paths []string

	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == l.root {
				return err
			}
			return nil // skip unreadable entries, keep walking
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), l.ext) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, &DiscoveryError{Root: l.root, Err: err}
	}

	return paths, nil
}

func (l *Loader) recordFailure(id string, err error) {
	l.mu.Lock()
	l.status.recordError(id, err)
	l.mu.Unlock()

	l.metrics.LoadErrors.Inc()
	l.logger.Error().Err(err).Str("study", id).Msg("study failed to load")
}

func (l *Loader) printFunc(id string) slua.PrintFunc {
	logger := l.logger.With().Str("study", id).Logger()
	return func(line string) {
		logger.Debug().Msg(line)
	}
}
