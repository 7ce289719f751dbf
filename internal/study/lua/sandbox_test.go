package lua

import (
	"fmt"
	"sync"
	"testing"
)

// testSurface records primitive operations for assertions.
type testSurface struct {
	mu      sync.Mutex
	added   []string
	removed []string
	nextID  int
}

func (s *testSurface) AddPrimitive(kind string, props map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("p%d", s.nextID)
	text, _ := props["text"].(string)
	s.added = append(s.added, kind+":"+text)
	return id
}

func (s *testSurface) RemovePrimitive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, id)
}

func TestSandboxBlocksDangerousGlobals(t *testing.T) {
	source := `
return {
	probe = function(name)
		return type(_G[name])
	end,
}
`
	mod, err := Evaluate(source, "probe")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	defer mod.Close()

	for _, name := range []string{"io", "os", "debug", "dofile", "loadfile", "load", "loadstring"} {
		got, err := mod.Call("probe", name)
		if err != nil {
			t.Fatalf("Call(probe, %q) error = %v", name, err)
		}
		if got != "nil" {
			t.Errorf("global %q is reachable (type %v), want nil", name, got)
		}
	}
}

func TestSandboxAllowsBaseLibraries(t *testing.T) {
	source := `
return {
	check = function()
		return string.upper("ok") .. tostring(math.floor(2.7)) .. tostring(#{1, 2})
	end,
}
`
	mod, err := Evaluate(source, "base")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	defer mod.Close()

	got, err := mod.Call("check")
	if err != nil {
		t.Fatalf("Call(check) error = %v", err)
	}
	if got != "OK22" {
		t.Errorf("check = %v, want %q", got, "OK22")
	}
}

func TestChartModuleFactories(t *testing.T) {
	source := `
return {
	make = function(kind)
		local p = chart[kind]({ text = "hello" })
		return p.kind
	end,
}
`
	mod, err := Evaluate(source, "factories")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	defer mod.Close()

	for _, kind := range []string{"line", "ray", "box", "label", "marker"} {
		got, err := mod.Call("make", kind)
		if err != nil {
			t.Fatalf("Call(make, %q) error = %v", kind, err)
		}
		if got != kind {
			t.Errorf("primitive kind = %v, want %q", got, kind)
		}
	}
}

func TestChartModuleAddRemove(t *testing.T) {
	source := `
return {
	draw = function(surface)
		local id = chart.add(surface, chart.label({ text = "hi" }))
		chart.remove(surface, id)
		return id
	end,
}
`
	mod, err := Evaluate(source, "draw")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	defer mod.Close()

	surface := &testSurface{}
	got, err := mod.Call("draw", Surface(surface))
	if err != nil {
		t.Fatalf("Call(draw) error = %v", err)
	}
	if got != "p1" {
		t.Errorf("primitive id = %v, want %q", got, "p1")
	}
	if len(surface.added) != 1 || surface.added[0] != "label:hi" {
		t.Errorf("added = %v, want [label:hi]", surface.added)
	}
	if len(surface.removed) != 1 || surface.removed[0] != "p1" {
		t.Errorf("removed = %v, want [p1]", surface.removed)
	}
}

func TestClockModule(t *testing.T) {
	source := `
local fired = false
return {
	schedule = function()
		clock.after(0, function() fired = true end)
		return clock.now() > 0 and clock.millis() > 0
	end,
	fired = function() return fired end,
}
`
	mod, err := Evaluate(source, "clocked")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	defer mod.Close()

	got, err := mod.Call("schedule")
	if err != nil {
		t.Fatalf("Call(schedule) error = %v", err)
	}
	if got != true {
		t.Error("clock.now()/clock.millis() returned non-positive values")
	}

	got, _ = mod.Call("fired")
	if got != false {
		t.Error("timer fired before RunDueTimers")
	}

	mod.RunDueTimers()

	got, _ = mod.Call("fired")
	if got != true {
		t.Error("timer did not fire after RunDueTimers")
	}
}

func TestUtilModule(t *testing.T) {
	source := `
return {
	trim = function(s) return util.trim(s) end,
	split = function(s) return util.split(s, ",") end,
	empty = function(t) return util.is_empty(t) end,
	roundtrip = function()
		local decoded = util.json_decode(util.json_encode({ a = 1, b = "x" }))
		return decoded.a == 1 and decoded.b == "x"
	end,
}
`
	mod, err := Evaluate(source, "utils")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	defer mod.Close()

	got, err := mod.Call("trim", "  padded  ")
	if err != nil {
		t.Fatalf("Call(trim) error = %v", err)
	}
	if got != "padded" {
		t.Errorf("trim = %q, want %q", got, "padded")
	}

	got, err = mod.Call("split", "a,b,c")
	if err != nil {
		t.Fatalf("Call(split) error = %v", err)
	}
	parts, ok := got.([]any)
	if !ok || len(parts) != 3 {
		t.Errorf("split = %v, want 3 parts", got)
	}

	got, _ = mod.Call("empty", map[string]any{})
	if got != true {
		t.Error("is_empty({}) = false, want true")
	}

	got, err = mod.Call("roundtrip")
	if err != nil {
		t.Fatalf("Call(roundtrip) error = %v", err)
	}
	if got != true {
		t.Error("json round trip lost values")
	}
}

func TestSandboxCapabilityGating(t *testing.T) {
	source := `
return {
	probe = function(name) return type(_G[name]) end,
}
`
	mod, err := Evaluate(source, "gated", WithCapabilities(CapabilityUtil))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	defer mod.Close()

	got, _ := mod.Call("probe", "chart")
	if got != "nil" {
		t.Errorf("chart module present without the chart capability (type %v)", got)
	}
	got, _ = mod.Call("probe", "clock")
	if got != "nil" {
		t.Errorf("clock module present without the clock capability (type %v)", got)
	}
	got, _ = mod.Call("probe", "util")
	if got != "table" {
		t.Errorf("util module missing with the util capability (type %v)", got)
	}
}

func TestSandboxPrintRouting(t *testing.T) {
	var lines []string
	source := `
return {
	say = function() print("hello", 42) end,
}
`
	mod, err := Evaluate(source, "printer", WithPrint(func(line string) {
		lines = append(lines, line)
	}))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	defer mod.Close()

	if _, err := mod.Call("say"); err != nil {
		t.Fatalf("Call(say) error = %v", err)
	}
	if len(lines) != 1 || lines[0] != "hello\t42" {
		t.Errorf("print output = %v, want [hello\\t42]", lines)
	}
}
