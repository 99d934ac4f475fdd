// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config manages the parley client configuration.
//
// Configuration lives at ~/.parley/config.toml (TOML preferred, JSON
// fallback for older installs). Environment variables prefixed PARLEY_
// override file values. Loading never fails the application: a missing or
// broken file falls back to defaults.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/parley-tui/internal/util"
)

// CONFIG: TOML first, JSON fallback, env overrides

// CurrentVersion is the config schema version used by Migrate.
const CurrentVersion = 1

// =============================================================================
// TYPES
// =============================================================================

// Config is the root configuration.
type Config struct {
	Version int `toml:"version" json:"version"`

	Server ServerConfig `toml:"server" json:"server"`
	Chat   ChatConfig   `toml:"chat" json:"chat"`
	UI     UIConfig     `toml:"ui" json:"ui"`
	Debug  bool         `toml:"debug" json:"debug"`
}

// ServerConfig holds backend endpoints.
type ServerConfig struct {
	APIURL         string `toml:"api_url" json:"api_url"`
	WSURL          string `toml:"ws_url" json:"ws_url"`
	TimeoutSeconds int    `toml:"timeout_seconds" json:"timeout_seconds"`
}

// ChatConfig holds exchange defaults.
type ChatConfig struct {
	DefaultModel string `toml:"default_model" json:"default_model"`

	// ThinkingMode requests the extended thinking trace on exchanges.
	ThinkingMode bool `toml:"thinking_mode" json:"thinking_mode"`

	// StreamMaxFPS caps how often streamed tokens repaint the viewport.
	StreamMaxFPS int `toml:"stream_max_fps" json:"stream_max_fps"`
}

// UIConfig holds presentation preferences.
type UIConfig struct {
	Theme              string `toml:"theme" json:"theme"` // dark, light, auto
	CompactMode        bool   `toml:"compact_mode" json:"compact_mode"`
	ShowTimestamps     bool   `toml:"show_timestamps" json:"show_timestamps"`
	SyntaxHighlighting bool   `toml:"syntax_highlighting" json:"syntax_highlighting"`
}

// =============================================================================
// VALIDATION ERRORS
// =============================================================================

// ValidationError describes one invalid config field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			APIURL:         "https://api.parley.chat/api/v1",
			WSURL:          "wss://api.parley.chat/ws",
			TimeoutSeconds: 30,
		},
		Chat: ChatConfig{
			DefaultModel: "parley-large",
			ThinkingMode: false,
			StreamMaxFPS: 30,
		},
		UI: UIConfig{
			Theme:              "auto",
			CompactMode:        false,
			ShowTimestamps:     true,
			SyntaxHighlighting: true,
		},
	}
}

// SetDefaults fills zero values with defaults without touching set fields.
func (c *Config) SetDefaults() {
	def := Default()
	if c.Version == 0 {
		c.Version = def.Version
	}
	if c.Server.APIURL == "" {
		c.Server.APIURL = def.Server.APIURL
	}
	if c.Server.WSURL == "" {
		c.Server.WSURL = def.Server.WSURL
	}
	if c.Server.TimeoutSeconds == 0 {
		c.Server.TimeoutSeconds = def.Server.TimeoutSeconds
	}
	if c.Chat.DefaultModel == "" {
		c.Chat.DefaultModel = def.Chat.DefaultModel
	}
	if c.Chat.StreamMaxFPS == 0 {
		c.Chat.StreamMaxFPS = def.Chat.StreamMaxFPS
	}
	if c.UI.Theme == "" {
		c.UI.Theme = def.UI.Theme
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns ~/.parley, creating it if needed.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	dir := filepath.Join(home, ".parley")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// PathTOML returns the TOML config path.
func PathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// pathJSON returns the legacy JSON config path.
func pathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the configuration: TOML first, legacy JSON fallback, defaults
// when neither exists. Env overrides apply last. A corrupt file is an
// error; a missing file is not.
func Load() (*Config, error) {
	tomlPath, err := PathTOML()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFrom(tomlPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom reads the configuration rooted at an explicit TOML path. The
// JSON fallback sits next to it with a .json extension.
func LoadFrom(tomlPath string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(tomlPath)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", tomlPath, err)
		}
	case os.IsNotExist(err):
		// Legacy JSON fallback
		jsonPath := strings.TrimSuffix(tomlPath, filepath.Ext(tomlPath)) + ".json"
		jsonData, jerr := os.ReadFile(jsonPath)
		if jerr == nil {
			if err := json.Unmarshal(jsonData, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", jsonPath, err)
			}
		} else if !os.IsNotExist(jerr) {
			return nil, fmt.Errorf("failed to read config: %w", jerr)
		}
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.Migrate()
	cfg.SetDefaults()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as TOML with restrictive permissions.
func (c *Config) Save() error {
	path, err := PathTOML()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration to an explicit path.
func (c *Config) SaveTo(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	// SECURITY: config may grow credential-adjacent fields, keep it 0600
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// =============================================================================
// MIGRATION
// =============================================================================

// Migrate upgrades older config layouts in place.
func (c *Config) Migrate() {
	if c.Version >= CurrentVersion {
		return
	}
	// Version 0 predates the ws endpoint; derive it from the API URL
	if c.Server.WSURL == "" && c.Server.APIURL != "" {
		ws := strings.Replace(c.Server.APIURL, "https://", "wss://", 1)
		ws = strings.Replace(ws, "http://", "ws://", 1)
		if idx := strings.Index(strings.TrimPrefix(ws, "wss://"), "/"); idx >= 0 {
			ws = ws[:len("wss://")+idx]
		}
		c.Server.WSURL = ws + "/ws"
	}
	c.Version = CurrentVersion
}

// =============================================================================
// ENV OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies PARLEY_* environment variables over file
// values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PARLEY_API_URL"); v != "" {
		c.Server.APIURL = v
	}
	if v := os.Getenv("PARLEY_WS_URL"); v != "" {
		c.Server.WSURL = v
	}
	if v := os.Getenv("PARLEY_MODEL"); v != "" {
		c.Chat.DefaultModel = v
	}
	if v := os.Getenv("PARLEY_THINKING_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Chat.ThinkingMode = b
		}
	}
	if v := os.Getenv("PARLEY_THEME"); v != "" {
		c.UI.Theme = v
	}
	if v := os.Getenv("PARLEY_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
	if v := os.Getenv("PARLEY_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.TimeoutSeconds = n
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Server.APIURL, "http://") && !strings.HasPrefix(c.Server.APIURL, "https://") {
		return &ValidationError{Field: "server.api_url", Message: "must start with http:// or https://"}
	}
	if !strings.HasPrefix(c.Server.WSURL, "ws://") && !strings.HasPrefix(c.Server.WSURL, "wss://") {
		return &ValidationError{Field: "server.ws_url", Message: "must start with ws:// or wss://"}
	}
	if c.Server.TimeoutSeconds <= 0 {
		return &ValidationError{Field: "server.timeout_seconds", Message: "must be positive"}
	}
	switch c.UI.Theme {
	case "dark", "light", "auto":
	default:
		return &ValidationError{Field: "ui.theme", Message: "must be dark, light, or auto"}
	}
	if c.Chat.StreamMaxFPS < 1 || c.Chat.StreamMaxFPS > 120 {
		return &ValidationError{Field: "chat.stream_max_fps", Message: "must be between 1 and 120"}
	}
	return nil
}

// Timeout returns the request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	return &out
}

// =============================================================================
// GLOBAL SINGLETON
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process-wide configuration, loading it on first use.
// Load failures fall back to defaults so the client always starts.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "parley: config error, using defaults: %v\n", err)
			cfg = Default()
			cfg.ApplyEnvOverrides()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})
	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal replaces the global configuration (hot reload).
func SetGlobal(cfg *Config) {
	Global() // ensure initialized so Once does not clobber this later
	globalConfigMu.Lock()
	globalConfig = cfg
	globalConfigMu.Unlock()
}

// ResetGlobalForTesting clears the singleton. Test use only.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
	globalConfigMu.Unlock()
}

// ErrStopped is returned by watchers closed via Close.
var ErrStopped = errors.New("config watcher stopped")
