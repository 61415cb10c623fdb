package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/wdcloader/internal/board"
	"github.com/shaunagostinho/wdcloader/internal/loader"
)

// Config holds all loader configuration.
type Config struct {
	mu sync.RWMutex

	Serial   SerialConfig   `yaml:"serial" json:"serial"`
	Board    BoardConfig    `yaml:"board" json:"board"`
	Protocol ProtocolConfig `yaml:"protocol" json:"protocol"`
	Journal  JournalConfig  `yaml:"journal" json:"journal"`
	Monitor  MonitorConfig  `yaml:"monitor" json:"monitor"`

	path string // file path for save/load
}

type SerialConfig struct {
	Port         string `yaml:"port" json:"port"`                  // e.g. /dev/ttyUSB0
	ResetOnOpen  bool   `yaml:"reset_on_open" json:"resetOnOpen"`  // pulse DTR after opening
	OpenAttempts int    `yaml:"open_attempts" json:"openAttempts"` // 0 = try once
}

type BoardConfig struct {
	Hint           string `yaml:"hint" json:"hint"` // "", "02", "816", "165" or a full board name
	ProbeTimeoutMs int    `yaml:"probe_timeout_ms" json:"probeTimeoutMs"`
}

type ProtocolConfig struct {
	Attempts          int `yaml:"attempts" json:"attempts"` // sends per frame, including the first
	DetectAttempts    int `yaml:"detect_attempts" json:"detectAttempts"`
	ResponseTimeoutMs int `yaml:"response_timeout_ms" json:"responseTimeoutMs"`
	ResyncQuietMs     int `yaml:"resync_quiet_ms" json:"resyncQuietMs"`
	ResyncMaxMs       int `yaml:"resync_max_ms" json:"resyncMaxMs"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	MaxRows int    `yaml:"max_rows" json:"maxRows"` // rotate after this many rows
}

type MonitorConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultPath is the config file used when none is given.
const DefaultPath = "wdcloader.yaml"

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		path: DefaultPath,
		Serial: SerialConfig{
			Port:         "/dev/ttyUSB0",
			ResetOnOpen:  false,
			OpenAttempts: 1,
		},
		Board: BoardConfig{
			Hint:           "",
			ProbeTimeoutMs: 500,
		},
		Protocol: ProtocolConfig{
			Attempts:          3,
			DetectAttempts:    1,
			ResponseTimeoutMs: 1000,
			ResyncQuietMs:     50,
			ResyncMaxMs:       1000,
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    "./journal",
			MaxRows: 100000,
		},
		Monitor: MonitorConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:8065",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: WDC_PORT, WDC_RESET, WDC_BOARD, WDC_PROBE_TIMEOUT_MS,
// WDC_RESPONSE_TIMEOUT_MS, WDC_ATTEMPTS, WDC_JOURNAL_ENABLED,
// WDC_JOURNAL_PATH, WDC_MONITOR_ENABLED, WDC_MONITOR_ADDR
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WDC_PORT"); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv("WDC_RESET"); v != "" {
		c.Serial.ResetOnOpen = truthy(v)
	}
	if v := os.Getenv("WDC_BOARD"); v != "" {
		c.Board.Hint = v
	}
	if v := os.Getenv("WDC_PROBE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Board.ProbeTimeoutMs = n
		}
	}
	if v := os.Getenv("WDC_RESPONSE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Protocol.ResponseTimeoutMs = n
		}
	}
	if v := os.Getenv("WDC_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Protocol.Attempts = n
		}
	}
	if v := os.Getenv("WDC_JOURNAL_ENABLED"); v != "" {
		c.Journal.Enabled = truthy(v)
	}
	if v := os.Getenv("WDC_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("WDC_MONITOR_ENABLED"); v != "" {
		c.Monitor.Enabled = truthy(v)
	}
	if v := os.Getenv("WDC_MONITOR_ADDR"); v != "" {
		c.Monitor.ListenAddr = v
	}
}

func truthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// Validate checks the settings that would otherwise fail deep inside a
// transfer.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Protocol.Attempts < 1 {
		return fmt.Errorf("config: protocol.attempts must be at least 1, got %d", c.Protocol.Attempts)
	}
	if c.Protocol.DetectAttempts < 1 {
		return fmt.Errorf("config: protocol.detect_attempts must be at least 1, got %d", c.Protocol.DetectAttempts)
	}
	if c.Board.ProbeTimeoutMs <= 0 || c.Protocol.ResponseTimeoutMs <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	if c.Board.Hint != "" {
		if _, err := board.Lookup(c.Board.Hint); err != nil {
			return fmt.Errorf("config: board.hint: %w", err)
		}
	}
	return nil
}

// LoaderOptions turns the board and protocol sections into detector
// options.
func (c *Config) LoaderOptions() ([]loader.Option, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	opts := []loader.Option{
		loader.WithProbeTimeout(ms(c.Board.ProbeTimeoutMs)),
		loader.WithResponseTimeout(ms(c.Protocol.ResponseTimeoutMs)),
		loader.WithAttempts(c.Protocol.Attempts),
		loader.WithDetectAttempts(c.Protocol.DetectAttempts),
		loader.WithResync(ms(c.Protocol.ResyncQuietMs), ms(c.Protocol.ResyncMaxMs)),
	}
	if c.Board.Hint != "" {
		p, err := board.Lookup(c.Board.Hint)
		if err != nil {
			return nil, err
		}
		opts = append(opts, loader.WithProfiles(p))
	}
	return opts, nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// JournalEnabled reports journal.enabled.
func (c *Config) JournalEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Journal.Enabled
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Save writes the config to its YAML file. It is safe to call from
// concurrent requests.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
