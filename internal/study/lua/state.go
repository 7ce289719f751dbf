package lua

import (
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// State wraps gopher-lua for a single study.
//
// gopher-lua's LState is not goroutine-safe. All operations on a State
// go through the mutex here, but the runtime itself delivers calls from
// a single sequencer, so contention is the exception, not the rule.
type State struct {
	L *lua.LState

	mu sync.Mutex

	sandbox *Sandbox
	closed  bool
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...SandboxOption) (*State, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // opened selectively below
	})

	s := &State{L: L}

	openSafeLibraries(L)

	s.sandbox = NewSandbox(L, opts...)
	s.sandbox.Install()

	return s, nil
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Intentionally NOT opened:
	// - io (file system access)
	// - os (system calls, execute)
	// - debug (can bypass sandbox)
	// - package (can load arbitrary modules)
}

// DoString executes Lua source and returns the chunk's return values.
// Execution is synchronous and panic-recovered.
func (s *State) DoString(source string) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	var results []lua.LValue
	err := s.doWithRecovery(func() error {
		fn, err := s.L.LoadString(source)
		if err != nil {
			return err
		}

		top := s.L.GetTop()
		s.L.Push(fn)
		if err := s.L.PCall(0, lua.MultRet, nil); err != nil {
			return err
		}

		nRet := s.L.GetTop() - top
		results = make([]lua.LValue, nRet)
		for i := 0; i < nRet; i++ {
			results[i] = s.L.Get(top + i + 1)
		}
		s.L.Pop(nRet)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// CallField calls a function stored under name in the given table.
// Returns an empty slice (not nil) if the function returns no values.
func (s *State) CallField(tbl *lua.LTable, name string, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fnVal := tbl.RawGetString(name)
	if fnVal == lua.LNil {
		return nil, fmt.Errorf("function %q not found", name)
	}
	if fnVal.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%q: %w (got %s)", name, ErrNotCallable, fnVal.Type())
	}

	top := s.L.GetTop()
	s.L.Push(fnVal)
	for _, arg := range args {
		s.L.Push(arg)
	}

	var callErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				callErr = fmt.Errorf("lua panic: %v", r)
			}
		}()
		callErr = s.L.PCall(len(args), lua.MultRet, nil)
	}()
	if callErr != nil {
		return nil, callErr
	}

	nRet := s.L.GetTop() - top
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = s.L.Get(top + i + 1)
	}
	s.L.Pop(nRet)

	return results, nil
}

// GetGlobal returns a global variable value.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// RunDueTimers runs any clock.after callbacks whose deadline has
// passed. Callbacks are best effort: failures are dropped, the study
// observes them only through its own pcall wrapping if it cares.
func (s *State) RunDueTimers(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.sandbox.runDueTimers(now)
}

// doWithRecovery executes a function with panic recovery.
func (s *State) doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// Sandbox returns the sandbox for capability inspection.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases all resources associated with the Lua state.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
