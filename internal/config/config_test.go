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

	if !cfg.Sync.Enabled {
		t.Error("auto-sync should be enabled by default")
	}
	if cfg.Sync.MaxConcurrentSyncs != 3 {
		t.Errorf("expected max_concurrent_syncs 3, got %d", cfg.Sync.MaxConcurrentSyncs)
	}
	if cfg.Scanner.MaxFileSizeBytes != 10*1024*1024 {
		t.Errorf("expected 10MB file size ceiling, got %d", cfg.Scanner.MaxFileSizeBytes)
	}
	if cfg.Lock.TimeoutSecs != 30 {
		t.Errorf("expected 30s lock timeout, got %d", cfg.Lock.TimeoutSecs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Sync.MaxConcurrentSyncs = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero max_concurrent_syncs")
	}

	cfg = Default()
	cfg.Sync.ScanPaths = []string{"/ok", "  "}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for blank scan path")
	}
}

func TestSetDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	if cfg.Sync.ScanIntervalSecs != 3600 {
		t.Errorf("expected scan interval default 3600, got %d", cfg.Sync.ScanIntervalSecs)
	}
	if cfg.Watch.DebounceMillis != 1000 {
		t.Errorf("expected debounce default 1000, got %d", cfg.Watch.DebounceMillis)
	}
	if cfg.Discovery.MinFiles != 3 {
		t.Errorf("expected min_files default 3, got %d", cfg.Discovery.MinFiles)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
[sync]
enabled = false
max_concurrent_syncs = 5
priority_languages = ["go", "rust"]
scan_paths = ["/srv/code"]

[scanner]
max_file_size_bytes = 1048576
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Sync.Enabled {
		t.Error("expected sync disabled")
	}
	if cfg.Sync.MaxConcurrentSyncs != 5 {
		t.Errorf("expected max_concurrent_syncs 5, got %d", cfg.Sync.MaxConcurrentSyncs)
	}
	if len(cfg.Sync.PriorityLanguages) != 2 || cfg.Sync.PriorityLanguages[0] != "go" {
		t.Errorf("unexpected priority languages: %v", cfg.Sync.PriorityLanguages)
	}
	if cfg.Scanner.MaxFileSizeBytes != 1048576 {
		t.Errorf("expected 1MB ceiling, got %d", cfg.Scanner.MaxFileSizeBytes)
	}
	// Unset sections fall back to defaults.
	if cfg.Watch.DebounceMillis != 1000 {
		t.Errorf("expected default debounce, got %d", cfg.Watch.DebounceMillis)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	content := `{"sync": {"enabled": true, "scan_interval_secs": 60}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Sync.ScanIntervalSecs != 60 {
		t.Errorf("expected scan interval 60, got %d", cfg.Sync.ScanIntervalSecs)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CODESYNC_SCAN_PATHS", "/a, /b ,")
	t.Setenv("CODESYNC_MAX_CONCURRENT", "7")
	t.Setenv("CODESYNC_ENABLED", "false")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if len(cfg.Sync.ScanPaths) != 2 || cfg.Sync.ScanPaths[0] != "/a" || cfg.Sync.ScanPaths[1] != "/b" {
		t.Errorf("unexpected scan paths: %v", cfg.Sync.ScanPaths)
	}
	if cfg.Sync.MaxConcurrentSyncs != 7 {
		t.Errorf("expected max concurrent 7, got %d", cfg.Sync.MaxConcurrentSyncs)
	}
	if cfg.Sync.Enabled {
		t.Error("expected sync disabled via env")
	}
}

func TestSaveJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Sync.ScanPaths = []string{"/srv/code"}

	if err := SaveJSON(cfg, path); err != nil {
		t.Fatalf("SaveJSON failed: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if len(loaded.Sync.ScanPaths) != 1 || loaded.Sync.ScanPaths[0] != "/srv/code" {
		t.Errorf("unexpected scan paths after round trip: %v", loaded.Sync.ScanPaths)
	}
}
