package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg := LoadConfig(filepath.Join(dir, "missing.yaml"))

	def := DefaultConfig()
	if cfg.Protocol.Attempts != def.Protocol.Attempts || cfg.Board.ProbeTimeoutMs != def.Board.ProbeTimeoutMs {
		t.Errorf("missing file should give defaults, got %+v", cfg.Protocol)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wdcloader.yaml")
	writeFile(t, path, `
serial:
  port: /dev/ttyACM3
board:
  hint: "816"
protocol:
  attempts: 5
`)

	cfg := LoadConfig(path)
	if cfg.Serial.Port != "/dev/ttyACM3" {
		t.Errorf("Serial.Port = %q", cfg.Serial.Port)
	}
	if cfg.Board.Hint != "816" {
		t.Errorf("Board.Hint = %q", cfg.Board.Hint)
	}
	if cfg.Protocol.Attempts != 5 {
		t.Errorf("Protocol.Attempts = %d, want 5", cfg.Protocol.Attempts)
	}
	if cfg.Protocol.ResponseTimeoutMs != 1000 {
		t.Errorf("unset field lost its default: ResponseTimeoutMs = %d", cfg.Protocol.ResponseTimeoutMs)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q", cfg.Path())
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wdcloader.yaml")
	writeFile(t, path, "protocol: [not, a, map")

	cfg := LoadConfig(path)
	if cfg.Protocol.Attempts != 3 {
		t.Errorf("bad YAML should fall back to defaults, Attempts = %d", cfg.Protocol.Attempts)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WDC_PORT", "/dev/ttyS9")
	t.Setenv("WDC_ATTEMPTS", "7")
	t.Setenv("WDC_MONITOR_ENABLED", "yes")
	t.Setenv("WDC_PROBE_TIMEOUT_MS", "not-a-number")

	cfg := LoadConfig(filepath.Join(dir, "missing.yaml"))
	if cfg.Serial.Port != "/dev/ttyS9" {
		t.Errorf("Serial.Port = %q", cfg.Serial.Port)
	}
	if cfg.Protocol.Attempts != 7 {
		t.Errorf("Protocol.Attempts = %d", cfg.Protocol.Attempts)
	}
	if !cfg.Monitor.Enabled {
		t.Error("Monitor.Enabled should be true")
	}
	if cfg.Board.ProbeTimeoutMs != 500 {
		t.Errorf("invalid number should be ignored, ProbeTimeoutMs = %d", cfg.Board.ProbeTimeoutMs)
	}
}

func TestEnvFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "# board\nWDC_BOARD=\"165\"\nWDC_JOURNAL_PATH=/tmp/j\n")
	t.Setenv("WDC_BOARD", "")
	t.Setenv("WDC_JOURNAL_PATH", "/var/journal")

	cfg := LoadConfig(filepath.Join(dir, "wdcloader.yaml"))
	if cfg.Board.Hint != "165" {
		t.Errorf("Board.Hint = %q, want 165 from .env", cfg.Board.Hint)
	}
	if cfg.Journal.Path != "/var/journal" {
		t.Errorf("real env should win over .env, Journal.Path = %q", cfg.Journal.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"known hint", func(c *Config) { c.Board.Hint = "W65C02SXB" }, false},
		{"unknown hint", func(c *Config) { c.Board.Hint = "6809" }, true},
		{"zero attempts", func(c *Config) { c.Protocol.Attempts = 0 }, true},
		{"zero detect attempts", func(c *Config) { c.Protocol.DetectAttempts = 0 }, true},
		{"negative timeout", func(c *Config) { c.Protocol.ResponseTimeoutMs = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoaderOptions(t *testing.T) {
	cfg := DefaultConfig()
	opts, err := cfg.LoaderOptions()
	if err != nil {
		t.Fatal(err)
	}
	if len(opts) != 5 {
		t.Errorf("options without hint = %d, want 5", len(opts))
	}

	cfg.Board.Hint = "816"
	opts, err = cfg.LoaderOptions()
	if err != nil {
		t.Fatal(err)
	}
	if len(opts) != 6 {
		t.Errorf("options with hint = %d, want 6", len(opts))
	}

	cfg.Board.Hint = "z80"
	if _, err := cfg.LoaderOptions(); err == nil {
		t.Error("LoaderOptions() with unknown hint should fail")
	}
}

func TestUpdateFromJSON(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Serial.Port = "/dev/ttyUSB3"

	if err := cfg.UpdateFromJSON([]byte(`{"protocol":{"attempts":4}}`)); err != nil {
		t.Fatalf("UpdateFromJSON() error = %v", err)
	}
	if cfg.Protocol.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", cfg.Protocol.Attempts)
	}
	if cfg.Protocol.ResponseTimeoutMs != 1000 {
		t.Errorf("sibling field lost: ResponseTimeoutMs = %d", cfg.Protocol.ResponseTimeoutMs)
	}
	if cfg.Serial.Port != "/dev/ttyUSB3" {
		t.Errorf("untouched section changed: Port = %q", cfg.Serial.Port)
	}

	if err := cfg.UpdateFromJSON([]byte(`{not json`)); err == nil {
		t.Error("UpdateFromJSON() with invalid JSON should fail")
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")

	cfg := LoadConfig(path)
	cfg.Journal.Enabled = true
	cfg.Monitor.ListenAddr = ":9000"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	again := LoadConfig(path)
	if !again.Journal.Enabled || again.Monitor.ListenAddr != ":9000" {
		t.Errorf("reloaded config = %+v / %+v", again.Journal, again.Monitor)
	}

	raw, err := again.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["journal"]; !ok {
		t.Error("ToJSON() missing journal section")
	}
}

func TestSaveConcurrentWithUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wdcloader.yaml")
	cfg := LoadConfig(path)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := cfg.Save(); err != nil {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := cfg.UpdateFromJSON([]byte(`{"journal":{"enabled":true}}`)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
	if !cfg.JournalEnabled() {
		t.Error("JournalEnabled() = false after update")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not written: %v", err)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	if got := DefaultConfig().Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}
}
