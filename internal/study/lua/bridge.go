package lua

import (
	"fmt"
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// Bridge provides utilities for Go-Lua interoperability.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a new Bridge for the given Lua state.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToGoValue converts a Lua value to a Go value.
func (b *Bridge) ToGoValue(lv lua.LValue) any {
	return b.toGoValue(lv, make(map[*lua.LTable]bool))
}

func (b *Bridge) toGoValue(lv lua.LValue, visited map[*lua.LTable]bool) any {
	if lv == nil {
		return nil
	}

	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil // break circular reference
		}
		visited[v] = true
		return b.tableToGo(v, visited)
	case *lua.LNilType:
		return nil
	case *lua.LFunction:
		return nil // functions cannot cross the boundary
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

// tableToGo converts a Lua table to either a Go map or slice.
func (b *Bridge) tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	// A table is an array if its keys are the contiguous integers 1..n.
	isArray := true
	maxN := 0
	count := 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})
	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = b.toGoValue(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = fmt.Sprintf("%v", float64(kv))
		default:
			key = k.String()
		}
		m[key] = b.toGoValue(v, visited)
	})
	return m
}

// ToLuaValue converts a Go value to a Lua value. Values implementing
// Surface cross as opaque userdata so evaluated code can only hand them
// back to the chart module.
func (b *Bridge) ToLuaValue(v any) lua.LValue {
	if v == nil {
		return lua.LNil
	}

	switch val := v.(type) {
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(float64(val))
	case int32:
		return lua.LNumber(float64(val))
	case int64:
		return lua.LNumber(float64(val))
	case float32:
		return lua.LNumber(float64(val))
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case Surface:
		ud := b.L.NewUserData()
		ud.Value = val
		return ud
	case []any:
		tbl := b.L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, b.ToLuaValue(item))
		}
		return tbl
	case map[string]any:
		tbl := b.L.NewTable()
		for k, item := range val {
			b.L.SetField(tbl, k, b.ToLuaValue(item))
		}
		return tbl
	}

	// Typed maps and slices (map[string]Surface, []Session, ...) land
	// here; anything else crosses as opaque userdata.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		tbl := b.L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			tbl.RawSetInt(i+1, b.ToLuaValue(rv.Index(i).Interface()))
		}
		return tbl
	case reflect.Map:
		tbl := b.L.NewTable()
		for _, key := range rv.MapKeys() {
			b.L.SetField(tbl, fmt.Sprintf("%v", key.Interface()), b.ToLuaValue(rv.MapIndex(key).Interface()))
		}
		return tbl
	default:
		ud := b.L.NewUserData()
		ud.Value = v
		return ud
	}
}
