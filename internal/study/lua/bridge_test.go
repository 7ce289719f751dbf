package lua

import (
	"reflect"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func newBridgeState(t *testing.T) (*lua.LState, *Bridge) {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	return L, NewBridge(L)
}

func TestBridgeScalars(t *testing.T) {
	_, b := newBridgeState(t)

	tests := []struct {
		in   any
		want lua.LValue
	}{
		{true, lua.LTrue},
		{int(7), lua.LNumber(7)},
		{int64(-3), lua.LNumber(-3)},
		{float64(1.5), lua.LNumber(1.5)},
		{"abc", lua.LString("abc")},
		{[]byte("raw"), lua.LString("raw")},
		{nil, lua.LNil},
	}
	for _, tt := range tests {
		if got := b.ToLuaValue(tt.in); got != tt.want {
			t.Errorf("ToLuaValue(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBridgeNumberNarrowing(t *testing.T) {
	_, b := newBridgeState(t)

	if got := b.ToGoValue(lua.LNumber(42)); got != int64(42) {
		t.Errorf("integral number = %T(%v), want int64(42)", got, got)
	}
	if got := b.ToGoValue(lua.LNumber(2.5)); got != float64(2.5) {
		t.Errorf("fractional number = %T(%v), want float64(2.5)", got, got)
	}
}

func TestBridgeTableToMap(t *testing.T) {
	L, b := newBridgeState(t)

	tbl := L.NewTable()
	L.SetField(tbl, "name", lua.LString("vwap"))
	L.SetField(tbl, "period", lua.LNumber(14))

	got, ok := b.ToGoValue(tbl).(map[string]any)
	if !ok {
		t.Fatalf("ToGoValue(table) = %T, want map", b.ToGoValue(tbl))
	}
	want := map[string]any{"name": "vwap", "period": int64(14)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToGoValue(table) = %v, want %v", got, want)
	}
}

func TestBridgeTableToSlice(t *testing.T) {
	L, b := newBridgeState(t)

	tbl := L.NewTable()
	tbl.RawSetInt(1, lua.LString("a"))
	tbl.RawSetInt(2, lua.LString("b"))
	tbl.RawSetInt(3, lua.LString("c"))

	got, ok := b.ToGoValue(tbl).([]any)
	if !ok {
		t.Fatalf("ToGoValue(array table) = %T, want slice", b.ToGoValue(tbl))
	}
	if !reflect.DeepEqual(got, []any{"a", "b", "c"}) {
		t.Errorf("ToGoValue(array table) = %v", got)
	}
}

func TestBridgeSparseTableIsMap(t *testing.T) {
	L, b := newBridgeState(t)

	tbl := L.NewTable()
	tbl.RawSetInt(1, lua.LString("a"))
	tbl.RawSetInt(3, lua.LString("c"))

	if _, ok := b.ToGoValue(tbl).(map[string]any); !ok {
		t.Errorf("sparse table = %T, want map", b.ToGoValue(tbl))
	}
}

func TestBridgeCircularTable(t *testing.T) {
	L, b := newBridgeState(t)

	tbl := L.NewTable()
	L.SetField(tbl, "self", tbl)

	got, ok := b.ToGoValue(tbl).(map[string]any)
	if !ok {
		t.Fatalf("ToGoValue(circular) = %T, want map", b.ToGoValue(tbl))
	}
	if got["self"] != nil {
		t.Errorf("circular reference = %v, want nil", got["self"])
	}
}

func TestBridgeSurfaceUserData(t *testing.T) {
	_, b := newBridgeState(t)

	surface := &testSurface{}
	lv := b.ToLuaValue(Surface(surface))
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		t.Fatalf("ToLuaValue(Surface) = %T, want userdata", lv)
	}
	if ud.Value != Surface(surface) {
		t.Error("userdata does not hold the original surface")
	}
	if b.ToGoValue(ud) != Surface(surface) {
		t.Error("ToGoValue(userdata) does not round trip the surface")
	}
}

func TestBridgeTypedCollections(t *testing.T) {
	_, b := newBridgeState(t)

	surfaces := map[string]Surface{"1m": &testSurface{}}
	lv := b.ToLuaValue(surfaces)
	tbl, ok := lv.(*lua.LTable)
	if !ok {
		t.Fatalf("ToLuaValue(map[string]Surface) = %T, want table", lv)
	}
	if _, ok := tbl.RawGetString("1m").(*lua.LUserData); !ok {
		t.Error("surface map entry did not cross as userdata")
	}

	lv = b.ToLuaValue([]string{"1m", "5m"})
	tbl, ok = lv.(*lua.LTable)
	if !ok {
		t.Fatalf("ToLuaValue([]string) = %T, want table", lv)
	}
	if tbl.RawGetInt(2) != lua.LString("5m") {
		t.Errorf("slice entry = %v, want %q", tbl.RawGetInt(2), "5m")
	}
}

func TestBridgeFunctionsDoNotCross(t *testing.T) {
	L, b := newBridgeState(t)

	fn := L.NewFunction(func(L *lua.LState) int { return 0 })
	if got := b.ToGoValue(fn); got != nil {
		t.Errorf("ToGoValue(function) = %v, want nil", got)
	}
}
