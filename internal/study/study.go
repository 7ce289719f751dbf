package study

import (
	slua "github.com/tickfolio/studyhost/internal/study/lua"
)

// ChartData is one snapshot of chart data handed to studies. The
// runtime treats it as opaque and forwards it unchanged.
type ChartData map[string]any

// Session describes one trading session window. Opaque to the runtime.
type Session map[string]any

// Surface is the per-timeframe drawing target studies render onto.
// The runtime never inspects surface contents; it only passes handles
// through to plugin code.
type Surface = slua.Surface

// Context is the runtime context a study observes on activation. The
// coordinator is its sole writer.
type Context struct {
	// Surfaces maps timeframe keys to their drawing surfaces.
	Surfaces map[string]Surface

	// Timeframes lists the active timeframe keys.
	Timeframes []string

	// Data is the latest chart data snapshot.
	Data ChartData

	// Sessions is the latest session set.
	Sessions []Session
}

// Study is the lifecycle contract every plugin must satisfy. The
// Registry is the only component that invokes these methods in bulk;
// single-study transitions also go through the Registry.
type Study interface {
	// Initialize activates the study against the given context.
	Initialize(ctx *Context) error

	// UpdateData delivers one chart data snapshot.
	UpdateData(chart ChartData, sessions []Session) error

	// Destroy releases everything the study holds on its surfaces.
	Destroy() error

	// Settings returns the study's current settings, or nil when they
	// cannot be read.
	Settings() Settings

	// UpdateSettings applies a partial or full settings map.
	UpdateSettings(partial Settings) error

	// UIConfig returns the declarative settings-form schema.
	UIConfig() (UIConfig, error)
}
