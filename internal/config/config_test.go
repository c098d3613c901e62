// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Backend.URL != "http://127.0.0.1:11434" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.Backend.RequestTimeoutSecs != 30 {
		t.Errorf("RequestTimeoutSecs = %d", cfg.Backend.RequestTimeoutSecs)
	}
	if !cfg.Backend.Autostart {
		t.Error("Autostart should default to true")
	}
	if cfg.Notify.QueueSize != 64 {
		t.Errorf("QueueSize = %d", cfg.Notify.QueueSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
default_model = "llama3.2:1b"

[backend]
url = "http://localhost:9999"
request_timeout_secs = 60

[storage]
database_path = "/tmp/chat.db"

[notify]
queue_size = 128
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.DefaultModel != "llama3.2:1b" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.Backend.URL != "http://localhost:9999" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.Backend.RequestTimeoutSecs != 60 {
		t.Errorf("RequestTimeoutSecs = %d", cfg.Backend.RequestTimeoutSecs)
	}
	if cfg.Storage.DatabasePath != "/tmp/chat.db" {
		t.Errorf("DatabasePath = %q", cfg.Storage.DatabasePath)
	}
	if cfg.Notify.QueueSize != 128 {
		t.Errorf("QueueSize = %d", cfg.Notify.QueueSize)
	}

	// Unset fields fall back to defaults.
	if cfg.Backend.ProbeTimeoutSecs != 5 {
		t.Errorf("ProbeTimeoutSecs = %d, want default 5", cfg.Backend.ProbeTimeoutSecs)
	}
}

func TestLoadFromPath_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("not [valid toml"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := LoadFromPath(path); err == nil {
		t.Error("expected an error for malformed TOML")
	}
}

func TestValidate_BadURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"bad scheme", "ftp://example.com"},
		{"no host", "http://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Backend.URL = tt.url
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate accepted %q", tt.url)
			}
		})
	}
}

func TestSetDefaults_FixesOutOfRange(t *testing.T) {
	cfg := &Config{}
	cfg.Backend.RequestTimeoutSecs = -5
	cfg.Notify.QueueSize = 0

	cfg.SetDefaults()

	if cfg.Backend.URL == "" {
		t.Error("empty URL not defaulted")
	}
	if cfg.Backend.RequestTimeoutSecs != 30 {
		t.Errorf("RequestTimeoutSecs = %d, want 30", cfg.Backend.RequestTimeoutSecs)
	}
	if cfg.Notify.QueueSize != 64 {
		t.Errorf("QueueSize = %d, want 64", cfg.Notify.QueueSize)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PINCER_OLLAMA_URL", "http://10.0.0.2:11434")
	t.Setenv("PINCER_MODEL", "qwen2.5:7b")
	t.Setenv("PINCER_AUTOSTART", "false")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Backend.URL != "http://10.0.0.2:11434" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.DefaultModel != "qwen2.5:7b" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.Backend.Autostart {
		t.Error("Autostart override not applied")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	cfg := Default()
	cfg.DefaultModel = "llama3.2:1b"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DefaultModel != "llama3.2:1b" {
		t.Errorf("DefaultModel = %q after round trip", loaded.DefaultModel)
	}
}
