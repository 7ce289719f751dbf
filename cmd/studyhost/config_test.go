package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "studyhost.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadHostConfigOverlay(t *testing.T) {
	path := writeConfig(t, `
plugin_root = "/srv/studies"
watch = false
debounce = "250ms"
log_level = "DEBUG"
`)

	cfg, err := loadHostConfig(path)
	if err != nil {
		t.Fatalf("loadHostConfig() error = %v", err)
	}

	if cfg.PluginRoot != "/srv/studies" {
		t.Errorf("PluginRoot = %q", cfg.PluginRoot)
	}
	if cfg.Watch {
		t.Error("Watch = true, want false")
	}
	if cfg.Debounce != 250*time.Millisecond {
		t.Errorf("Debounce = %v", cfg.Debounce)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want lowercased", cfg.LogLevel)
	}

	// Keys absent from the file keep their defaults.
	def := defaultHostConfig()
	if cfg.UpdateInterval != def.UpdateInterval {
		t.Errorf("UpdateInterval = %v, want default %v", cfg.UpdateInterval, def.UpdateInterval)
	}
	if !reflect.DeepEqual(cfg.Timeframes, def.Timeframes) {
		t.Errorf("Timeframes = %v, want default %v", cfg.Timeframes, def.Timeframes)
	}
}

func TestLoadHostConfigEmptyFile(t *testing.T) {
	cfg, err := loadHostConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("loadHostConfig() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, defaultHostConfig()) {
		t.Errorf("empty file config = %+v, want defaults", cfg)
	}
}

func TestLoadHostConfigErrors(t *testing.T) {
	if _, err := loadHostConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file error = nil")
	}
	if _, err := loadHostConfig(writeConfig(t, `debounce = "soon"`)); err == nil {
		t.Error("bad duration error = nil")
	}
	if _, err := loadHostConfig(writeConfig(t, `watch = "maybe"`)); err == nil {
		t.Error("type mismatch error = nil")
	}
}

func TestNormalizeTimeframes(t *testing.T) {
	got := normalizeTimeframes([]string{" 1m", "5m", "1m", "", "1h "})
	want := []string{"1m", "5m", "1h"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeTimeframes() = %v, want %v", got, want)
	}
}
