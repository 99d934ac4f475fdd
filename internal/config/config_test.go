// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Chat.DefaultModel = "parley-mini"
	cfg.UI.Theme = "light"
	cfg.UI.CompactMode = true
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config perm = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if loaded.Chat.DefaultModel != "parley-mini" {
		t.Errorf("model = %q", loaded.Chat.DefaultModel)
	}
	if loaded.UI.Theme != "light" || !loaded.UI.CompactMode {
		t.Errorf("ui = %+v", loaded.UI)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Server.APIURL != Default().Server.APIURL {
		t.Errorf("api url = %q", cfg.Server.APIURL)
	}
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("this is { not toml"), 0600)
	if _, err := LoadFrom(path); err == nil {
		t.Error("corrupt file should fail loudly, not fall back silently")
	}
}

func TestLegacyJSONFallback(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "config.json")
	os.WriteFile(jsonPath, []byte(`{"chat":{"default_model":"legacy-model"}}`), 0600)

	cfg, err := LoadFrom(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Chat.DefaultModel != "legacy-model" {
		t.Errorf("model = %q", cfg.Chat.DefaultModel)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Chat.DefaultModel = "from-file"
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	t.Setenv("PARLEY_MODEL", "from-env")
	t.Setenv("PARLEY_DEBUG", "true")
	t.Setenv("PARLEY_THINKING_MODE", "1")

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if loaded.Chat.DefaultModel != "from-env" {
		t.Errorf("env override lost: %q", loaded.Chat.DefaultModel)
	}
	if !loaded.Debug {
		t.Error("PARLEY_DEBUG not applied")
	}
	if !loaded.Chat.ThinkingMode {
		t.Error("PARLEY_THINKING_MODE not applied")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad api url", func(c *Config) { c.Server.APIURL = "ftp://x" }, "server.api_url"},
		{"bad ws url", func(c *Config) { c.Server.WSURL = "https://x" }, "server.ws_url"},
		{"bad theme", func(c *Config) { c.UI.Theme = "solarized" }, "ui.theme"},
		{"bad fps", func(c *Config) { c.Chat.StreamMaxFPS = 500 }, "chat.stream_max_fps"},
		{"bad timeout", func(c *Config) { c.Server.TimeoutSeconds = -1 }, "server.timeout_seconds"},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		err := cfg.Validate()
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected ValidationError, got %v", tt.name, err)
			continue
		}
		if verr.Field != tt.field {
			t.Errorf("%s: field = %q, want %q", tt.name, verr.Field, tt.field)
		}
	}
}

func TestMigrateDerivesWSURL(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{APIURL: "https://api.parley.chat/api/v1"},
	}
	cfg.Migrate()
	if cfg.Server.WSURL != "wss://api.parley.chat/ws" {
		t.Errorf("derived ws url = %q", cfg.Server.WSURL)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("version = %d", cfg.Version)
	}
}

func TestGlobalSingleton(t *testing.T) {
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	first := Global()
	if first == nil {
		t.Fatal("Global returned nil")
	}
	if Global() != first {
		t.Error("Global not a singleton")
	}

	replacement := Default()
	replacement.Chat.DefaultModel = "swapped"
	SetGlobal(replacement)
	if Global().Chat.DefaultModel != "swapped" {
		t.Error("SetGlobal did not replace")
	}
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	cfg := Default()
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	cfg.Chat.DefaultModel = "reloaded-model"
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	select {
	case reloaded := <-w.Reloads():
		if reloaded.Chat.DefaultModel != "reloaded-model" {
			t.Errorf("model = %q", reloaded.Chat.DefaultModel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload never delivered")
	}
}
