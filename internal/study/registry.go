package study

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Registry is the table of validated studies keyed by id, and the only
// component permitted to invoke study lifecycle methods. A thrown error
// or panic from one study is contained to that study: it is logged,
// counted, and never aborts the batch or escapes to the caller.
type Registry struct {
	mu sync.RWMutex

	logger  zerolog.Logger
	metrics *Metrics

	studies map[string]Study

	// Registration order, for deterministic iteration.
	order []string

	// initialized gates UpdateAll: after DestroyAll it is false and
	// updates are no-ops until the next InitializeAll.
	initialized bool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger, metrics *Metrics) *Registry {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Registry{
		logger:  logger.With().Str("component", "registry").Logger(),
		metrics: metrics,
		studies: make(map[string]Study),
	}
}

// Register stores a validated study under id, overwriting any prior
// entry for the same id (a reload, not a conflict). Returns false only
// when st is nil.
func (r *Registry) Register(id string, st Study) bool {
	if st == nil {
		return false
	}

	r.mu.Lock()
	prior, replaced := r.studies[id]
	r.studies[id] = st
	if !replaced {
		r.order = append(r.order, id)
	}
	r.mu.Unlock()

	if replaced {
		r.logger.Debug().Str("study", id).Msg("replacing registered study")
		r.retire(id, prior)
	}
	return true
}

// Unregister destroys the study defensively and removes it. Destroy
// failures are logged, never propagated. Unknown ids are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	st, ok := r.studies[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.studies, id)
	r.removeFromOrder(id)
	r.mu.Unlock()

	r.retire(id, st)
}

// Get returns a study by id.
func (r *Registry) Get(id string) (Study, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.studies[id]
	return st, ok
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered studies.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.studies)
}

// IsInitialized reports whether the registry is between an
// InitializeAll and a DestroyAll.
func (r *Registry) IsInitialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// InitializeAll activates every registered study whose settings report
// enabled. One study's failure does not prevent the rest from
// initializing.
func (r *Registry) InitializeAll(ctx *Context) {
	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()

	for _, entry := range r.snapshot() {
		if !entry.study.Settings().Enabled() {
			continue
		}
		r.safeCall(entry.id, "initialize", func() error {
			return entry.study.Initialize(ctx)
		})
	}
}

// UpdateAll delivers one snapshot to every enabled study. A no-op when
// the registry is not initialized.
func (r *Registry) UpdateAll(chart ChartData, sessions []Session) {
	r.mu.RLock()
	ready := r.initialized
	r.mu.RUnlock()
	if !ready {
		return
	}

	for _, entry := range r.snapshot() {
		if !entry.study.Settings().Enabled() {
			continue
		}
		r.safeCall(entry.id, "updateData", func() error {
			return entry.study.UpdateData(chart, sessions)
		})
	}
}

// DestroyAll destroys every registered study regardless of its enabled
// flag, then clears the registry. Calling it again is a no-op:
// cleanup is guaranteed even when enabled bookkeeping is inconsistent.
func (r *Registry) DestroyAll() {
	entries := r.snapshot()

	r.mu.Lock()
	r.studies = make(map[string]Study)
	r.order = nil
	r.initialized = false
	r.mu.Unlock()

	for _, entry := range entries {
		r.retire(entry.id, entry.study)
	}
}

// InitializeOne activates a single study with the given context. Used
// by the coordinator for enable transitions and reintegration. The
// error is returned for caller diagnostics after being logged.
func (r *Registry) InitializeOne(id string, ctx *Context) error {
	st, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStudy, id)
	}
	return r.safeCall(id, "initialize", func() error {
		return st.Initialize(ctx)
	})
}

// DestroyOne deactivates a single study without removing it.
func (r *Registry) DestroyOne(id string) error {
	st, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStudy, id)
	}
	return r.safeCall(id, "destroy", func() error {
		return st.Destroy()
	})
}

// ApplySettings forwards a settings map to a single study.
func (r *Registry) ApplySettings(id string, partial Settings) error {
	st, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStudy, id)
	}
	return r.safeCall(id, "updateSettings", func() error {
		return st.UpdateSettings(partial)
	})
}

// SettingsOf returns a study's current settings.
func (r *Registry) SettingsOf(id string) (Settings, bool) {
	st, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return st.Settings(), true
}

// AllSettings snapshots every registered study's settings, keyed by id.
func (r *Registry) AllSettings() map[string]Settings {
	out := make(map[string]Settings)
	for _, entry := range r.snapshot() {
		out[entry.id] = entry.study.Settings()
	}
	return out
}

type registryEntry struct {
	id    string
	study Study
}

// snapshot copies the table in registration order so lifecycle calls
// happen outside the lock.
func (r *Registry) snapshot() []registryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]registryEntry, 0, len(r.order))
	for _, id := range r.order {
		if st, ok := r.studies[id]; ok {
			entries = append(entries, registryEntry{id: id, study: st})
		}
	}
	return entries
}

// safeCall isolates one lifecycle call: errors and panics are logged
// and counted, never propagated beyond the returned value.
func (r *Registry) safeCall(id, op string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &LifecycleCallError{ID: id, Op: op, Err: fmt.Errorf("panic: %v", p)}
		}
		if err != nil {
			r.metrics.LifecycleErrors.Inc()
			r.logger.Error().Err(err).Str("study", id).Str("op", op).Msg("lifecycle call failed")
		}
	}()

	if callErr := fn(); callErr != nil {
		return &LifecycleCallError{ID: id, Op: op, Err: callErr}
	}
	return nil
}

// retire destroys a removed study defensively and releases its
// interpreter state.
func (r *Registry) retire(id string, st Study) {
	_ = r.safeCall(id, "destroy", st.Destroy)
	if closer, ok := st.(io.Closer); ok {
		_ = closer.Close()
	}
}

// removeFromOrder removes an id from the order slice.
// Must be called with mu held.
func (r *Registry) removeFromOrder(id string) {
	for i, n := range r.order {
		if n == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
