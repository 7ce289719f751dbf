package study

// Settings is an arbitrary nested key/value map per study. The
// "enabled" key is distinguished: it gates whether the study currently
// holds resources.
type Settings map[string]any

// enabledKey gates activation.
const enabledKey = "enabled"

// Enabled reports whether the settings activate the study. A study
// without an enabled key is enabled; a study whose settings could not
// be read (nil map) is not.
func (s Settings) Enabled() bool {
	if s == nil {
		return false
	}
	v, ok := s[enabledKey]
	if !ok {
		return true
	}
	b, ok := v.(bool)
	if !ok {
		return true
	}
	return b
}

// HasEnabled reports whether the map carries an explicit enabled flag.
func (s Settings) HasEnabled() bool {
	_, ok := s[enabledKey]
	return ok
}

// Clone returns a shallow copy.
func (s Settings) Clone() Settings {
	if s == nil {
		return nil
	}
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge overlays partial onto a copy of s and returns the result.
func (s Settings) Merge(partial Settings) Settings {
	out := s.Clone()
	if out == nil {
		out = make(Settings, len(partial))
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// ParseSettings converts a bridge-converted Lua value into Settings.
// Returns nil for anything that is not a map.
func ParseSettings(v any) Settings {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return Settings(m)
}
