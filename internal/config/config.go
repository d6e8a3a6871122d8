// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for codesync.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/codesync/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete codesync configuration.
type Config struct {
	// Sync controls the auto-sync scheduler.
	Sync SyncConfig `toml:"sync" json:"sync"`

	// Scanner controls file scanning and hashing.
	Scanner ScannerConfig `toml:"scanner" json:"scanner"`

	// Watch controls the file watcher.
	Watch WatchConfig `toml:"watch" json:"watch"`

	// Discovery controls repository discovery.
	Discovery DiscoveryConfig `toml:"discovery" json:"discovery"`

	// Lock controls the cross-process locks.
	Lock LockConfig `toml:"lock" json:"lock"`
}

// SyncConfig contains auto-sync scheduler configuration.
type SyncConfig struct {
	// Enabled turns the auto-sync loops on or off.
	Enabled bool `toml:"enabled" json:"enabled"`

	// ScanIntervalSecs is the delay between discovery scans.
	ScanIntervalSecs int `toml:"scan_interval_secs" json:"scan_interval_secs"`

	// SyncIntervalSecs is the dequeue wait in the sync loop.
	SyncIntervalSecs int `toml:"sync_interval_secs" json:"sync_interval_secs"`

	// MaxConcurrentSyncs caps simultaneous repository syncs.
	MaxConcurrentSyncs int `toml:"max_concurrent_syncs" json:"max_concurrent_syncs"`

	// PriorityLanguages sorts first in the sync queue, in the given order.
	PriorityLanguages []string `toml:"priority_languages" json:"priority_languages"`

	// SyncOnStartup triggers an immediate scan when the manager starts.
	SyncOnStartup bool `toml:"sync_on_startup" json:"sync_on_startup"`

	// SizeCeilingBytes is the size beyond which a repository sorts last
	// regardless of its actual size.
	SizeCeilingBytes int64 `toml:"size_ceiling_bytes" json:"size_ceiling_bytes"`

	// ScanPaths are the roots to discover repositories under. When empty
	// the manager falls back to the host path resolution chain.
	ScanPaths []string `toml:"scan_paths" json:"scan_paths"`

	// ExcludePatterns are directory names excluded from discovery.
	ExcludePatterns []string `toml:"exclude_patterns" json:"exclude_patterns"`
}

// ScannerConfig contains file scanner configuration.
type ScannerConfig struct {
	// MaxFileSizeBytes is the per-file size ceiling; larger files are skipped.
	MaxFileSizeBytes int64 `toml:"max_file_size_bytes" json:"max_file_size_bytes"`

	// Workers is the hashing worker pool size. 0 means NumCPU (capped at 8).
	Workers int `toml:"workers" json:"workers"`
}

// WatchConfig contains file watcher configuration.
type WatchConfig struct {
	// DebounceMillis is the quiet period before a change event fires.
	DebounceMillis int `toml:"debounce_millis" json:"debounce_millis"`
}

// DiscoveryConfig contains repository discovery configuration.
type DiscoveryConfig struct {
	// MaxDepth bounds how deep discovery descends under a scan root.
	MaxDepth int `toml:"max_depth" json:"max_depth"`

	// MinFiles is the minimum number of source files for a directory to
	// qualify as a repository.
	MinFiles int `toml:"min_files" json:"min_files"`
}

// LockConfig contains lock configuration.
type LockConfig struct {
	// TimeoutSecs bounds every lock acquisition attempt.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			Enabled:            true,
			ScanIntervalSecs:   3600,
			SyncIntervalSecs:   300,
			MaxConcurrentSyncs: 3,
			PriorityLanguages:  []string{"python", "javascript", "typescript"},
			SyncOnStartup:      true,
			SizeCeilingBytes:   100 * 1024 * 1024,
			ExcludePatterns: []string{
				"node_modules", ".git", "__pycache__", "venv", "env",
				"build", "dist", "target", ".pytest_cache", ".tox",
			},
		},
		Scanner: ScannerConfig{
			MaxFileSizeBytes: 10 * 1024 * 1024,
		},
		Watch: WatchConfig{
			DebounceMillis: 1000,
		},
		Discovery: DiscoveryConfig{
			MaxDepth: 5,
			MinFiles: 3,
		},
		Lock: LockConfig{
			TimeoutSecs: 30,
		},
	}
}

// SetDefaults fills zero values with defaults after a partial load.
func (c *Config) SetDefaults() {
	def := Default()

	if c.Sync.ScanIntervalSecs <= 0 {
		c.Sync.ScanIntervalSecs = def.Sync.ScanIntervalSecs
	}
	if c.Sync.SyncIntervalSecs <= 0 {
		c.Sync.SyncIntervalSecs = def.Sync.SyncIntervalSecs
	}
	if c.Sync.MaxConcurrentSyncs <= 0 {
		c.Sync.MaxConcurrentSyncs = def.Sync.MaxConcurrentSyncs
	}
	if len(c.Sync.PriorityLanguages) == 0 {
		c.Sync.PriorityLanguages = def.Sync.PriorityLanguages
	}
	if c.Sync.SizeCeilingBytes <= 0 {
		c.Sync.SizeCeilingBytes = def.Sync.SizeCeilingBytes
	}
	if len(c.Sync.ExcludePatterns) == 0 {
		c.Sync.ExcludePatterns = def.Sync.ExcludePatterns
	}
	if c.Scanner.MaxFileSizeBytes <= 0 {
		c.Scanner.MaxFileSizeBytes = def.Scanner.MaxFileSizeBytes
	}
	if c.Watch.DebounceMillis <= 0 {
		c.Watch.DebounceMillis = def.Watch.DebounceMillis
	}
	if c.Discovery.MaxDepth <= 0 {
		c.Discovery.MaxDepth = def.Discovery.MaxDepth
	}
	if c.Discovery.MinFiles <= 0 {
		c.Discovery.MinFiles = def.Discovery.MinFiles
	}
	if c.Lock.TimeoutSecs <= 0 {
		c.Lock.TimeoutSecs = def.Lock.TimeoutSecs
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Sync.MaxConcurrentSyncs < 1 {
		return fmt.Errorf("sync.max_concurrent_syncs must be at least 1, got %d", c.Sync.MaxConcurrentSyncs)
	}
	if c.Sync.ScanIntervalSecs < 1 {
		return fmt.Errorf("sync.scan_interval_secs must be positive, got %d", c.Sync.ScanIntervalSecs)
	}
	if c.Scanner.MaxFileSizeBytes < 1 {
		return fmt.Errorf("scanner.max_file_size_bytes must be positive, got %d", c.Scanner.MaxFileSizeBytes)
	}
	if c.Discovery.MaxDepth < 1 {
		return fmt.Errorf("discovery.max_depth must be positive, got %d", c.Discovery.MaxDepth)
	}
	if c.Lock.TimeoutSecs < 1 {
		return fmt.Errorf("lock.timeout_secs must be positive, got %d", c.Lock.TimeoutSecs)
	}
	for _, p := range c.Sync.ScanPaths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("sync.scan_paths contains an empty path")
		}
	}
	return nil
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the codesync configuration directory (~/.codesync).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".codesync"), nil
}

// ConfigPathTOML returns the TOML config file path.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the JSON config file path.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()

	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				return nil, fmt.Errorf("failed to load TOML config: %w", err)
			}
			return finish(cfg)
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				return nil, fmt.Errorf("failed to load JSON config: %w", err)
			}
			return finish(cfg)
		}
	}

	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

// finish applies env overrides, defaults, and validation.
func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
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

// LoadJSON loads configuration from a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//
//	CODESYNC_ENABLED            - "true"/"false"
//	CODESYNC_SCAN_PATHS         - comma-separated scan roots
//	CODESYNC_EXCLUDE            - comma-separated exclude patterns
//	CODESYNC_SCAN_INTERVAL      - seconds
//	CODESYNC_SYNC_INTERVAL      - seconds
//	CODESYNC_MAX_CONCURRENT     - integer
//	CODESYNC_PRIORITY_LANGUAGES - comma-separated language names
//	CODESYNC_SYNC_ON_STARTUP    - "true"/"false"
//	CODESYNC_SIZE_CEILING       - bytes
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CODESYNC_ENABLED"); v != "" {
		c.Sync.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("CODESYNC_SCAN_PATHS"); v != "" {
		c.Sync.ScanPaths = splitList(v)
	}
	if v := os.Getenv("CODESYNC_EXCLUDE"); v != "" {
		c.Sync.ExcludePatterns = splitList(v)
	}
	if v := os.Getenv("CODESYNC_SCAN_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.ScanIntervalSecs = n
		}
	}
	if v := os.Getenv("CODESYNC_SYNC_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.SyncIntervalSecs = n
		}
	}
	if v := os.Getenv("CODESYNC_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.MaxConcurrentSyncs = n
		}
	}
	if v := os.Getenv("CODESYNC_PRIORITY_LANGUAGES"); v != "" {
		c.Sync.PriorityLanguages = splitList(v)
	}
	if v := os.Getenv("CODESYNC_SYNC_ON_STARTUP"); v != "" {
		c.Sync.SyncOnStartup = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("CODESYNC_SIZE_CEILING"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Sync.SizeCeilingBytes = n
		}
	}
}

// splitList splits a comma-separated env value, dropping empty entries.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default JSON path atomically.
func Save(cfg *Config) error {
	path, err := ConfigPathJSON()
	if err != nil {
		return err
	}
	return SaveJSON(cfg, path)
}

// SaveJSON writes the configuration as JSON to path atomically.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return util.AtomicWriteFile(path, data, 0600)
}
