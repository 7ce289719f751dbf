package study

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// CoordinatorState is the coordinator's lifecycle state.
type CoordinatorState int

// Coordinator states.
const (
	StateUninitialized CoordinatorState = iota
	StateInitializing
	StateReady
	StateUpdating
	StateDestroyed
)

// String returns a string representation of the state.
func (s CoordinatorState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateUpdating:
		return "updating"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Envelope is one queued (chartData, sessions) pair awaiting ordered
// delivery. The id exists only for log correlation.
type Envelope struct {
	ID        string
	Chart     ChartData
	Sessions  []Session
	Timestamp time.Time
}

// ReintegrationRequest asks the coordinator to decide whether a
// (re)loaded study should activate against the current context. Emitted
// by the watcher so a filesystem callback never races a coordinator
// state transition.
type ReintegrationRequest struct {
	ID string
}

// Coordinator is the sole owner of runtime context and the sole
// sequencer of calls into the registry. Updates flow through a FIFO
// queue with a single drainer, so no study ever observes two
// overlapping envelopes.
type Coordinator struct {
	mu sync.Mutex

	logger  zerolog.Logger
	metrics *Metrics

	loader   *Loader
	registry *Registry

	state CoordinatorState

	// held is the current runtime context, written exclusively here
	// immediately before fan-out.
	held *Context

	queue    []Envelope
	draining bool

	reint chan ReintegrationRequest
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewCoordinator creates a coordinator driving the given loader and
// registry, and starts its reintegration consumer.
func NewCoordinator(loader *Loader, registry *Registry, logger zerolog.Logger, metrics *Metrics) *Coordinator {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	c := &Coordinator{
		logger:   logger.With().Str("component", "coordinator").Logger(),
		metrics:  metrics,
		loader:   loader,
		registry: registry,
		state:    StateUninitialized,
		reint:    make(chan ReintegrationRequest, 16),
		done:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.reintLoop()

	return c
}

// State returns the current coordinator state.
func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reintegrations is the channel the watcher emits requests on.
func (c *Coordinator) Reintegrations() chan<- ReintegrationRequest {
	return c.reint
}

// Initialize loads all studies from disk, activates the enabled ones
// against ctx, stores ctx as the held context and transitions to Ready.
func (c *Coordinator) Initialize(ctx *Context) error {
	c.mu.Lock()
	if c.state == StateReady || c.state == StateUpdating || c.state == StateInitializing {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.state = StateInitializing
	c.mu.Unlock()

	status := c.loader.ReloadAll()
	c.registry.InitializeAll(ctx)

	c.mu.Lock()
	c.held = ctx
	c.state = StateReady
	c.mu.Unlock()

	c.logger.Info().
		Int("loaded", status.LoadedCount).
		Int("errors", status.ErrorCount).
		Msg("coordinator ready")
	return nil
}

// UpdateData enqueues one envelope for ordered delivery. Dropped with a
// log entry when the coordinator is not ready. When no drain is in
// progress the caller's goroutine becomes the single drainer, so for a
// single-threaded host delivery is fully synchronous and every enabled
// study observes envelopes in exact arrival order.
func (c *Coordinator) UpdateData(chart ChartData, sessions []Session) {
	env := Envelope{
		ID:        uuid.NewString(),
		Chart:     chart,
		Sessions:  sessions,
		Timestamp: time.Now(),
	}

	c.mu.Lock()
	if c.state != StateReady && c.state != StateUpdating {
		state := c.state
		c.mu.Unlock()
		c.metrics.EnvelopesDropped.Inc()
		c.logger.Debug().
			Str("envelope", env.ID).
			Stringer("state", state).
			Msg("dropping update: coordinator not ready")
		return
	}

	c.queue = append(c.queue, env)
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	c.state = StateUpdating
	c.drain() // unlocks
}

// drain delivers queued envelopes one at a time. Called with mu held;
// returns with mu released. Exactly one drainer runs at a time: the
// flag, not a lock across deliveries, enforces per-envelope atomicity.
func (c *Coordinator) drain() {
	for {
		if len(c.queue) == 0 || c.state != StateUpdating {
			c.draining = false
			if c.state == StateUpdating {
				c.state = StateReady
			}
			c.mu.Unlock()
			return
		}

		env := c.queue[0]
		c.queue = c.queue[1:]

		// Store the envelope as the current context before fan-out.
		if c.held != nil {
			c.held.Data = env.Chart
			c.held.Sessions = env.Sessions
		}
		c.mu.Unlock()

		c.registry.UpdateAll(env.Chart, env.Sessions)
		c.metrics.EnvelopesDelivered.Inc()

		// Yield between envelopes so a cooperative host can interleave
		// other work; ordering is preserved by the single drainer.
		runtime.Gosched()

		c.mu.Lock()
	}
}

// UpdateStudySettings applies a settings change and drives exactly one
// enabled-flag transition:
//
//	disabled -> enabled:  updateSettings, then initialize
//	enabled  -> disabled: destroy, then updateSettings
//	otherwise:            updateSettings only
//
// A newly enabled study observes its final configuration on first
// activation; a disabling study's cleanup still sees its prior
// configuration. Activation on enable happens only while Ready, with
// the held context; otherwise the study activates on the next explicit
// Initialize or Reset.
func (c *Coordinator) UpdateStudySettings(id string, partial Settings) error {
	prev, ok := c.registry.SettingsOf(id)
	if !ok {
		if hint := c.suggest(id); hint != "" {
			return fmt.Errorf("%w: %s (closest match: %s)", ErrUnknownStudy, id, hint)
		}
		return fmt.Errorf("%w: %s", ErrUnknownStudy, id)
	}

	prevEnabled := prev.Enabled()
	nextEnabled := prevEnabled
	if partial.HasEnabled() {
		nextEnabled = partial.Enabled()
	}

	switch {
	case !prevEnabled && nextEnabled:
		if err := c.registry.ApplySettings(id, partial); err != nil {
			return err
		}
		c.mu.Lock()
		ready := c.state == StateReady || c.state == StateUpdating
		held := c.held
		c.mu.Unlock()
		if ready {
			_ = c.registry.InitializeOne(id, held)
		} else {
			c.logger.Debug().Str("study", id).Msg("enable deferred: coordinator not ready")
		}
		return nil

	case prevEnabled && !nextEnabled:
		_ = c.registry.DestroyOne(id)
		return c.registry.ApplySettings(id, partial)

	default:
		return c.registry.ApplySettings(id, partial)
	}
}

// Destroy discards the pending queue atomically, destroys every
// registered study, clears the held context and transitions to
// Destroyed. Nothing further drains until the next Initialize.
func (c *Coordinator) Destroy() {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	dropped := len(c.queue)
	c.queue = nil
	c.held = nil
	c.state = StateDestroyed
	c.mu.Unlock()

	c.registry.DestroyAll()

	if dropped > 0 {
		c.logger.Info().Int("dropped", dropped).Msg("discarded queued envelopes on destroy")
	}
}

// Reset destroys and reinitializes with a new context. Used when the
// set of rendering surfaces changes.
func (c *Coordinator) Reset(ctx *Context) error {
	c.Destroy()
	return c.Initialize(ctx)
}

// ExportSettings produces a flat JSON object mapping every registered
// study id to its settings, suitable for external persistence.
func (c *Coordinator) ExportSettings() ([]byte, error) {
	out := []byte("{}")
	settings := c.registry.AllSettings()

	var err error
	for _, id := range c.registry.IDs() {
		s, ok := settings[id]
		if !ok {
			continue
		}
		out, err = sjson.SetBytes(out, id, map[string]any(s))
		if err != nil {
			return nil, fmt.Errorf("export settings for %q: %w", id, err)
		}
	}
	return out, nil
}

// ImportSettings replays updateSettings per id from a previously
// exported map. Unknown ids are silently ignored; per-study apply
// failures are aggregated but do not stop the import.
func (c *Coordinator) ImportSettings(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("import settings: invalid json")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return errors.New("import settings: expected an object of id -> settings")
	}

	var errs []error
	parsed.ForEach(func(key, value gjson.Result) bool {
		id := key.String()
		if _, ok := c.registry.Get(id); !ok {
			c.logger.Debug().Str("study", id).Msg("import: ignoring unknown study")
			return true
		}
		m, ok := value.Value().(map[string]any)
		if !ok {
			errs = append(errs, fmt.Errorf("settings for %q are not an object", id))
			return true
		}
		if err := c.UpdateStudySettings(id, Settings(m)); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

// Status returns the diagnostic snapshot. It never fails.
func (c *Coordinator) Status() RuntimeStatus {
	status := c.loader.Status()
	return RuntimeStatus{
		LoadedCount:    status.LoadedCount,
		ErrorCount:     status.ErrorCount,
		Errors:         status.Errors,
		PluginRootPath: c.loader.Root(),
	}
}

// Close stops the reintegration consumer. The coordinator is destroyed
// first if it is still running.
func (c *Coordinator) Close() {
	c.Destroy()
	close(c.done)
	c.wg.Wait()
}

// reintLoop consumes reintegration requests from the watcher.
func (c *Coordinator) reintLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case req := <-c.reint:
			c.handleReintegration(req)
		}
	}
}

// handleReintegration is the second phase of a hot reload: activate the
// reloaded study immediately only when the coordinator is Ready and the
// study reports enabled; otherwise it stays dormant until the next
// explicit Initialize or Reset.
func (c *Coordinator) handleReintegration(req ReintegrationRequest) {
	st, ok := c.registry.Get(req.ID)
	if !ok {
		return
	}

	c.mu.Lock()
	ready := c.state == StateReady || c.state == StateUpdating
	held := c.held
	c.mu.Unlock()

	if !ready || !st.Settings().Enabled() {
		c.logger.Debug().Str("study", req.ID).Msg("reintegration deferred")
		return
	}

	c.metrics.Reloads.Inc()
	_ = c.registry.InitializeOne(req.ID, held)
	c.logger.Info().Str("study", req.ID).Msg("study reintegrated")
}

// suggest returns the registered id closest to the given one, when it
// is close enough to plausibly be a typo.
func (c *Coordinator) suggest(id string) string {
	best := ""
	bestDist := -1
	for _, candidate := range c.registry.IDs() {
		d := levenshtein.ComputeDistance(id, candidate)
		if bestDist == -1 || d < bestDist {
			best, bestDist = candidate, d
		}
	}
	if best == "" || bestDist > 3 || bestDist > len(best)/2+1 {
		return ""
	}
	return best
}
