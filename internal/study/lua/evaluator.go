package lua

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Module is the evaluated export of one study source: a Lua table plus
// the sandboxed state it lives in. All calls into the table are
// serialized and panic-recovered by the owning State.
type Module struct {
	id      string
	state   *State
	exports *lua.LTable
	bridge  *Bridge
}

// conventionalExports are checked, in order, after the chunk return
// value and the id-named global.
var conventionalExports = []string{"study", "exports", "default"}

// Evaluate executes study source text in a fresh sandboxed state and
// resolves its export table.
//
// Resolution order is fixed and closed:
//  1. the chunk's return value, when it is a table (the documented
//     convention: end the file with `return { ... }`);
//  2. a global table named after the study id;
//  3. the globals "study", "exports", "default", in that order.
//
// Arbitrary top-level bindings are never scanned. Any syntax or runtime
// failure, and any source resolving to no table, yields a single
// *EvaluationError; the loader is responsible for catching it.
func Evaluate(source, id string, opts ...SandboxOption) (*Module, error) {
	state, err := NewState(opts...)
	if err != nil {
		return nil, &EvaluationError{ID: id, Err: err}
	}

	rets, err := state.DoString(source)
	if err != nil {
		state.Close()
		return nil, &EvaluationError{ID: id, Err: err}
	}

	exports := resolveExports(state, id, rets)
	if exports == nil {
		state.Close()
		return nil, &EvaluationError{ID: id, Err: ErrNoExport}
	}

	return &Module{
		id:      id,
		state:   state,
		exports: exports,
		bridge:  NewBridge(state.L),
	}, nil
}

func resolveExports(state *State, id string, rets []lua.LValue) *lua.LTable {
	if len(rets) > 0 {
		if tbl, ok := rets[0].(*lua.LTable); ok {
			return tbl
		}
	}

	if tbl, ok := state.GetGlobal(id).(*lua.LTable); ok {
		return tbl
	}

	for _, name := range conventionalExports {
		if tbl, ok := state.GetGlobal(name).(*lua.LTable); ok {
			return tbl
		}
	}
	return nil
}

// ID returns the study id the module was evaluated under.
func (m *Module) ID() string {
	return m.id
}

// Has returns true if the export table holds a callable under name.
func (m *Module) Has(name string) bool {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	if m.state.closed {
		return false
	}
	return m.exports.RawGetString(name).Type() == lua.LTFunction
}

// Call invokes an exported function by name, converting arguments and
// the first return value across the bridge.
func (m *Module) Call(name string, args ...any) (any, error) {
	luaArgs := make([]lua.LValue, len(args))

	m.state.mu.Lock()
	if m.state.closed {
		m.state.mu.Unlock()
		return nil, ErrStateClosed
	}
	for i, arg := range args {
		luaArgs[i] = m.bridge.ToLuaValue(arg)
	}
	m.state.mu.Unlock()

	rets, err := m.state.CallField(m.exports, name, luaArgs...)
	if err != nil {
		return nil, err
	}
	if len(rets) == 0 {
		return nil, nil
	}

	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return m.bridge.ToGoValue(rets[0]), nil
}

// RunDueTimers fires any elapsed clock.after callbacks.
func (m *Module) RunDueTimers() {
	m.state.RunDueTimers(time.Now())
}

// Close releases the underlying Lua state.
func (m *Module) Close() error {
	return m.state.Close()
}
