package study

import "testing"

func TestDeriveID(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/studies/vwap.lua", "vwap"},
		{"/studies/VWAP.lua", "vwap"},
		{"/studies/session-levels.lua", "session_levels"},
		{"/studies/Order Flow v2.lua", "order_flow_v2"},
		{"/deep/nested/dir/trend.lua", "trend"},
		{"/studies/7day.lua", "_7day"},
		{"/studies/.lua", "study"},
		{"relative.lua", "relative"},
	}
	for _, tt := range tests {
		if got := DeriveID(tt.path); got != tt.want {
			t.Errorf("DeriveID(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestDeriveIDCollision(t *testing.T) {
	// Different directories, same stem: same id, so a later load
	// replaces the earlier registration instead of duplicating it.
	a := DeriveID("/studies/a/vwap.lua")
	b := DeriveID("/studies/b/vwap.lua")
	if a != b {
		t.Errorf("ids differ for same stem: %q vs %q", a, b)
	}
}
