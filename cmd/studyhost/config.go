package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// hostConfig is the resolved host configuration.
type hostConfig struct {
	PluginRoot     string
	Watch          bool
	Debounce       time.Duration
	UpdateInterval time.Duration
	LogLevel       string
	Timeframes     []string
}

func defaultHostConfig() hostConfig {
	return hostConfig{
		PluginRoot:     "./studies",
		Watch:          true,
		Debounce:       100 * time.Millisecond,
		UpdateInterval: time.Second,
		LogLevel:       "info",
		Timeframes:     []string{"1m", "5m", "1h"},
	}
}

// fileConfig mirrors the TOML file shape.
type fileConfig struct {
	PluginRoot     string   `toml:"plugin_root"`
	Watch          bool     `toml:"watch"`
	Debounce       string   `toml:"debounce"`
	UpdateInterval string   `toml:"update_interval"`
	LogLevel       string   `toml:"log_level"`
	Timeframes     []string `toml:"timeframes"`
}

// loadHostConfig overlays a TOML file onto the defaults. Keys absent
// from the file keep their default values.
func loadHostConfig(path string) (hostConfig, error) {
	cfg := defaultHostConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return hostConfig{}, fmt.Errorf("load host config: %w", err)
	}

	if meta.IsDefined("plugin_root") {
		if root := strings.TrimSpace(raw.PluginRoot); root != "" {
			cfg.PluginRoot = root
		}
	}

	if meta.IsDefined("watch") {
		cfg.Watch = raw.Watch
	}

	if meta.IsDefined("debounce") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Debounce))
		if err != nil {
			return hostConfig{}, fmt.Errorf("parse debounce: %w", err)
		}
		cfg.Debounce = d
	}

	if meta.IsDefined("update_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.UpdateInterval))
		if err != nil {
			return hostConfig{}, fmt.Errorf("parse update_interval: %w", err)
		}
		cfg.UpdateInterval = d
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}

	if meta.IsDefined("timeframes") {
		cfg.Timeframes = normalizeTimeframes(raw.Timeframes)
	}

	return cfg, nil
}

func normalizeTimeframes(tfs []string) []string {
	out := make([]string, 0, len(tfs))
	seen := make(map[string]bool)
	for _, tf := range tfs {
		tf = strings.TrimSpace(tf)
		if tf == "" || seen[tf] {
			continue
		}
		seen[tf] = true
		out = append(out, tf)
	}
	return out
}
