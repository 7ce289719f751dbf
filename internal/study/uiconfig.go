package study

import "fmt"

// Control types a settings form can render. The runtime validates the
// shape but otherwise treats the schema as opaque data for the external
// settings UI.
const (
	ControlCheckbox = "checkbox"
	ControlColor    = "color"
	ControlRange    = "range"
	ControlNumber   = "number"
	ControlSelect   = "select"
	ControlTime     = "time"
)

// UIControl is one typed control in a settings form.
type UIControl struct {
	Key         string
	Type        string
	Label       string
	Default     any
	Constraints map[string]any
}

// UISection groups controls under a title.
type UISection struct {
	Title    string
	Controls []UIControl
}

// UIConfig is the declarative settings-form schema a study exposes.
type UIConfig struct {
	Sections []UISection
}

// ParseUIConfig converts a bridge-converted getUIConfig result into a
// typed schema. Unknown fields are ignored; a control without a key is
// an error since the settings UI cannot address it.
func ParseUIConfig(v any) (UIConfig, error) {
	var cfg UIConfig
	if v == nil {
		return cfg, nil
	}

	root, ok := v.(map[string]any)
	if !ok {
		return cfg, fmt.Errorf("ui config: expected table, got %T", v)
	}

	sections, ok := root["sections"].([]any)
	if !ok {
		return cfg, nil
	}

	for i, sv := range sections {
		sm, ok := sv.(map[string]any)
		if !ok {
			return cfg, fmt.Errorf("ui config: section %d is not a table", i+1)
		}

		section := UISection{}
		if title, ok := sm["title"].(string); ok {
			section.Title = title
		}

		controls, _ := sm["controls"].([]any)
		for j, cv := range controls {
			cm, ok := cv.(map[string]any)
			if !ok {
				return cfg, fmt.Errorf("ui config: section %d control %d is not a table", i+1, j+1)
			}
			ctl, err := parseControl(cm)
			if err != nil {
				return cfg, fmt.Errorf("ui config: section %d control %d: %w", i+1, j+1, err)
			}
			section.Controls = append(section.Controls, ctl)
		}

		cfg.Sections = append(cfg.Sections, section)
	}
	return cfg, nil
}

func parseControl(m map[string]any) (UIControl, error) {
	ctl := UIControl{}

	key, ok := m["key"].(string)
	if !ok || key == "" {
		return ctl, fmt.Errorf("missing key")
	}
	ctl.Key = key

	if t, ok := m["type"].(string); ok {
		ctl.Type = t
	}
	if label, ok := m["label"].(string); ok {
		ctl.Label = label
	}
	ctl.Default = m["default"]
	if constraints, ok := m["constraints"].(map[string]any); ok {
		ctl.Constraints = constraints
	}
	return ctl, nil
}
