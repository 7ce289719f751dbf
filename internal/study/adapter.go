package study

import (
	slua "github.com/tickfolio/studyhost/internal/study/lua"
)

// lifecycleMethods are the six callables every study export must carry.
var lifecycleMethods = []string{
	"initialize",
	"updateData",
	"destroy",
	"getSettings",
	"updateSettings",
	"getUIConfig",
}

// MissingMethods returns the lifecycle methods a module fails to expose
// as callables, in contract order. Empty means the module validates.
func MissingMethods(mod *slua.Module) []string {
	var missing []string
	for _, name := range lifecycleMethods {
		if !mod.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Adapt constructs a Study from an evaluated module. Validation is the
// construction itself: if any lifecycle method is missing, no Study
// value exists and the returned *ValidationError lists the gaps.
func Adapt(mod *slua.Module) (Study, error) {
	if missing := MissingMethods(mod); len(missing) > 0 {
		return nil, &ValidationError{ID: mod.ID(), Missing: missing}
	}
	return &luaStudy{mod: mod}, nil
}

// luaStudy adapts an evaluated Lua module to the Study interface.
type luaStudy struct {
	mod *slua.Module
}

func (s *luaStudy) Initialize(ctx *Context) error {
	_, err := s.mod.Call("initialize", contextValue(ctx))
	return err
}

func (s *luaStudy) UpdateData(chart ChartData, sessions []Session) error {
	s.mod.RunDueTimers()
	_, err := s.mod.Call("updateData", map[string]any(chart), sessions)
	return err
}

func (s *luaStudy) Destroy() error {
	_, err := s.mod.Call("destroy")
	return err
}

func (s *luaStudy) Settings() Settings {
	v, err := s.mod.Call("getSettings")
	if err != nil {
		return nil
	}
	return ParseSettings(v)
}

func (s *luaStudy) UpdateSettings(partial Settings) error {
	_, err := s.mod.Call("updateSettings", map[string]any(partial))
	return err
}

func (s *luaStudy) UIConfig() (UIConfig, error) {
	v, err := s.mod.Call("getUIConfig")
	if err != nil {
		return UIConfig{}, err
	}
	return ParseUIConfig(v)
}

// Close releases the study's Lua state. The registry calls this after
// removal; destroy alone does not free the interpreter.
func (s *luaStudy) Close() error {
	return s.mod.Close()
}

// contextValue flattens a Context for the bridge. Surfaces cross as
// opaque userdata keyed by timeframe.
func contextValue(ctx *Context) map[string]any {
	if ctx == nil {
		return map[string]any{}
	}
	return map[string]any{
		"surfaces":   ctx.Surfaces,
		"timeframes": ctx.Timeframes,
		"data":       map[string]any(ctx.Data),
		"sessions":   ctx.Sessions,
	}
}
