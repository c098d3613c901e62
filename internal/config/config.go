// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for pincer-chat.
//
// Configuration lives at ~/.pincer_chat/config.toml; missing files and
// missing fields fall back to built-in defaults, and a few environment
// variables override the file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete pincer-chat configuration.
type Config struct {
	// DefaultModel is selected at startup when it is already available
	// locally. Empty means no preselection.
	DefaultModel string `toml:"default_model"`

	// Backend configures the Ollama connection.
	Backend BackendConfig `toml:"backend"`

	// Storage configures the conversation database.
	Storage StorageConfig `toml:"storage"`

	// Notify configures the change notifier.
	Notify NotifyConfig `toml:"notify"`
}

// BackendConfig contains Ollama connection configuration.
type BackendConfig struct {
	// URL is the Ollama base URL
	URL string `toml:"url"`
	// RequestTimeoutSecs bounds non-streaming requests
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
	// ConnectTimeoutSecs bounds stream connection establishment only;
	// a running stream has no deadline
	ConnectTimeoutSecs int `toml:"connect_timeout_secs"`
	// ProbeTimeoutSecs bounds the availability probe
	ProbeTimeoutSecs int `toml:"probe_timeout_secs"`
	// Autostart spawns a local `ollama serve` when the backend is down
	Autostart bool `toml:"autostart"`
}

// StorageConfig contains conversation database configuration.
type StorageConfig struct {
	// DatabasePath is the SQLite file (empty = ~/.pincer_chat/database.db)
	DatabasePath string `toml:"database_path"`
}

// NotifyConfig contains change notifier configuration.
type NotifyConfig struct {
	// QueueSize is the per-subscriber event queue capacity
	QueueSize int `toml:"queue_size"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultModel: "",
		Backend: BackendConfig{
			URL:                "http://127.0.0.1:11434",
			RequestTimeoutSecs: 30,
			ConnectTimeoutSecs: 10,
			ProbeTimeoutSecs:   5,
			Autostart:          true,
		},
		Storage: StorageConfig{
			DatabasePath: "",
		},
		Notify: NotifyConfig{
			QueueSize: 64,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the pincer-chat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".pincer_chat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads the configuration file, falling back to defaults when it
// does not exist. Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, err
			}
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from an explicit path, applying
// defaults and validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the default path.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

// SetDefaults fills empty or out-of-range fields with their defaults.
func (c *Config) SetDefaults() {
	def := Default()

	if c.Backend.URL == "" {
		c.Backend.URL = def.Backend.URL
	}
	if c.Backend.RequestTimeoutSecs <= 0 {
		c.Backend.RequestTimeoutSecs = def.Backend.RequestTimeoutSecs
	}
	if c.Backend.ConnectTimeoutSecs <= 0 {
		c.Backend.ConnectTimeoutSecs = def.Backend.ConnectTimeoutSecs
	}
	if c.Backend.ProbeTimeoutSecs <= 0 {
		c.Backend.ProbeTimeoutSecs = def.Backend.ProbeTimeoutSecs
	}
	if c.Notify.QueueSize <= 0 {
		c.Notify.QueueSize = def.Notify.QueueSize
	}
}

// Validate checks the configuration for errors that defaults cannot fix.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("invalid backend URL %q: %w", c.Backend.URL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("backend URL %q must use http or https", c.Backend.URL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("backend URL %q has no host", c.Backend.URL)
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides.
//
//	PINCER_OLLAMA_URL  — backend URL
//	PINCER_MODEL       — default model
//	PINCER_DB_PATH     — database path
//	PINCER_AUTOSTART   — "true"/"false"
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PINCER_OLLAMA_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("PINCER_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("PINCER_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("PINCER_AUTOSTART"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Backend.Autostart = b
		}
	}
}
