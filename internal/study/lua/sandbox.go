package lua

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Surface is the drawing target a study renders onto, one per
// timeframe. The runtime never inspects a surface; evaluated code
// reaches it only through the chart module installed here.
type Surface interface {
	// AddPrimitive adds a drawing primitive and returns its handle id.
	AddPrimitive(kind string, props map[string]any) string

	// RemovePrimitive removes a previously added primitive.
	RemovePrimitive(id string)
}

// Capability names a binding group that can be granted to a study.
type Capability string

// Available capabilities.
const (
	CapabilityChart  Capability = "chart"
	CapabilityClock  Capability = "clock"
	CapabilityUtil   Capability = "util"
	CapabilityUnsafe Capability = "unsafe" // full Lua stdlib, tests only
)

// DefaultCapabilities is the standard grant for study plugins.
func DefaultCapabilities() []Capability {
	return []Capability{CapabilityChart, CapabilityClock, CapabilityUtil}
}

// PrintFunc receives output from the sandboxed print replacement.
type PrintFunc func(line string)

// Sandbox restricts Lua execution to the explicit study binding set.
type Sandbox struct {
	L *lua.LState

	capabilities map[Capability]bool
	printFn      PrintFunc

	// Deferred clock.after callbacks, ordered by deadline.
	timers []pendingTimer
}

type pendingTimer struct {
	at time.Time
	fn *lua.LFunction
}

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

// WithCapabilities sets the granted capability set.
func WithCapabilities(caps ...Capability) SandboxOption {
	return func(s *Sandbox) {
		s.capabilities = make(map[Capability]bool, len(caps))
		for _, c := range caps {
			s.capabilities[c] = true
		}
	}
}

// WithPrint routes the sandboxed print to fn instead of discarding it.
func WithPrint(fn PrintFunc) SandboxOption {
	return func(s *Sandbox) {
		s.printFn = fn
	}
}

// NewSandbox creates a new sandbox for the Lua state.
func NewSandbox(L *lua.LState, opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		L:            L,
		capabilities: make(map[Capability]bool),
	}
	for _, c := range DefaultCapabilities() {
		s.capabilities[c] = true
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Install sets up the sandbox restrictions and injects the granted
// binding modules.
func (s *Sandbox) Install() {
	// Remove functions that could be used to pull in code outside the
	// evaluated source.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installPrint()

	if s.capabilities[CapabilityChart] {
		s.installChartModule()
	}
	if s.capabilities[CapabilityClock] {
		s.installClockModule()
	}
	if s.capabilities[CapabilityUtil] {
		s.installUtilModule()
	}
	if s.capabilities[CapabilityUnsafe] {
		lua.OpenIo(s.L)
		lua.OpenOs(s.L)
		lua.OpenDebug(s.L)
	}
}

// HasCapability returns true if the capability is granted.
func (s *Sandbox) HasCapability(cap Capability) bool {
	return s.capabilities[cap]
}

// Capabilities returns all granted capabilities, sorted.
func (s *Sandbox) Capabilities() []Capability {
	caps := make([]Capability, 0, len(s.capabilities))
	for c, granted := range s.capabilities {
		if granted {
			caps = append(caps, c)
		}
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// installPrint replaces print with a version routed to the host.
func (s *Sandbox) installPrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		if s.printFn == nil {
			return 0
		}
		line := ""
		for i := 1; i <= L.GetTop(); i++ {
			if i > 1 {
				line += "\t"
			}
			line += L.Get(i).String()
		}
		s.printFn(line)
		return 0
	}))
}

// primitiveKinds are the drawing factories exposed on the chart module.
var primitiveKinds = []string{"line", "ray", "box", "label", "marker"}

// installChartModule injects the drawing-primitive factories plus the
// add/remove operations that forward to an opaque surface handle.
func (s *Sandbox) installChartModule() {
	mod := s.L.NewTable()

	for _, kind := range primitiveKinds {
		kind := kind
		s.L.SetField(mod, kind, s.L.NewFunction(func(L *lua.LState) int {
			props := L.OptTable(1, L.NewTable())
			p := L.NewTable()
			props.ForEach(func(k, v lua.LValue) {
				L.SetTable(p, k, v)
			})
			L.SetField(p, "kind", lua.LString(kind))
			L.Push(p)
			return 1
		}))
	}

	s.L.SetField(mod, "add", s.L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		surface, ok := ud.Value.(Surface)
		if !ok {
			L.ArgError(1, "expected surface handle")
			return 0
		}
		tbl := L.CheckTable(2)

		b := &Bridge{L: L}
		props, _ := b.ToGoValue(tbl).(map[string]any)
		kind := ""
		if k, ok := props["kind"].(string); ok {
			kind = k
			delete(props, "kind")
		}

		id := surface.AddPrimitive(kind, props)
		L.Push(lua.LString(id))
		return 1
	}))

	s.L.SetField(mod, "remove", s.L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		surface, ok := ud.Value.(Surface)
		if !ok {
			L.ArgError(1, "expected surface handle")
			return 0
		}
		id := L.CheckString(2)
		surface.RemovePrimitive(id)
		return 0
	}))

	s.L.SetGlobal("chart", mod)
}

// installClockModule injects time helpers and a deferred callback
// scheduler. Callbacks run cooperatively on the host's update loop.
func (s *Sandbox) installClockModule() {
	mod := s.L.NewTable()

	s.L.SetField(mod, "now", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(float64(time.Now().Unix())))
		return 1
	}))

	s.L.SetField(mod, "millis", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(float64(time.Now().UnixMilli())))
		return 1
	}))

	s.L.SetField(mod, "after", s.L.NewFunction(func(L *lua.LState) int {
		seconds := float64(L.CheckNumber(1))
		fn := L.CheckFunction(2)
		s.timers = append(s.timers, pendingTimer{
			at: time.Now().Add(time.Duration(seconds * float64(time.Second))),
			fn: fn,
		})
		return 0
	}))

	s.L.SetGlobal("clock", mod)
}

// runDueTimers fires callbacks whose deadline has passed.
// Caller must hold the owning State's mutex.
func (s *Sandbox) runDueTimers(now time.Time) {
	if len(s.timers) == 0 {
		return
	}

	remaining := s.timers[:0]
	due := make([]*lua.LFunction, 0, len(s.timers))
	for _, t := range s.timers {
		if !t.at.After(now) {
			due = append(due, t.fn)
		} else {
			remaining = append(remaining, t)
		}
	}
	s.timers = remaining

	for _, fn := range due {
		func() {
			defer func() { recover() }()
			s.L.Push(fn)
			_ = s.L.PCall(0, 0, nil)
		}()
	}
}

// installUtilModule injects string/table helpers and JSON codecs.
func (s *Sandbox) installUtilModule() {
	mod := s.L.NewTable()

	s.L.SetField(mod, "trim", s.L.NewFunction(func(L *lua.LState) int {
		str := L.CheckString(1)
		L.Push(lua.LString(strings.TrimSpace(str)))
		return 1
	}))

	s.L.SetField(mod, "split", s.L.NewFunction(func(L *lua.LState) int {
		str := L.CheckString(1)
		sep := L.OptString(2, ",")
		out := L.NewTable()
		for i, part := range strings.Split(str, sep) {
			out.RawSetInt(i+1, lua.LString(part))
		}
		L.Push(out)
		return 1
	}))

	s.L.SetField(mod, "keys", s.L.NewFunction(func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		out := L.NewTable()
		i := 0
		tbl.ForEach(func(k, _ lua.LValue) {
			i++
			out.RawSetInt(i, lua.LString(k.String()))
		})
		L.Push(out)
		return 1
	}))

	s.L.SetField(mod, "merge", s.L.NewFunction(func(L *lua.LState) int {
		dst := L.CheckTable(1)
		src := L.CheckTable(2)
		src.ForEach(func(k, v lua.LValue) {
			L.SetTable(dst, k, v)
		})
		L.Push(dst)
		return 1
	}))

	s.L.SetField(mod, "is_empty", s.L.NewFunction(func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		empty := true
		tbl.ForEach(func(_, _ lua.LValue) { empty = false })
		L.Push(lua.LBool(empty))
		return 1
	}))

	s.L.SetField(mod, "json_encode", s.L.NewFunction(func(L *lua.LState) int {
		b := &Bridge{L: L}
		val := b.ToGoValue(L.CheckAny(1))
		data, err := json.Marshal(val)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(data))
		return 1
	}))

	s.L.SetField(mod, "json_decode", s.L.NewFunction(func(L *lua.LState) int {
		str := L.CheckString(1)
		var val any
		if err := json.Unmarshal([]byte(str), &val); err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		b := &Bridge{L: L}
		L.Push(b.ToLuaValue(val))
		return 1
	}))

	s.L.SetGlobal("util", mod)
}
