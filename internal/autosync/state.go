// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package autosync schedules automatic repository synchronization.
package autosync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/codesync/internal/config"
	"github.com/jeranaias/codesync/internal/util"
)

// =============================================================================
// PERSISTED STATE
// =============================================================================

// State is the durable manager state, written on Stop and loaded on
// construction.
type State struct {
	// SyncedRepos are the absolute paths of repositories already synced.
	SyncedRepos []string `json:"synced_repos"`

	// LastScan is when discovery last ran, nil before the first scan.
	LastScan *time.Time `json:"last_scan"`

	// SavedAt is when the state file was written.
	SavedAt time.Time `json:"saved_at"`
}

// DefaultStateFile returns the per-user state file location.
func DefaultStateFile() (string, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "auto_sync_state.json"), nil
}

// loadState reads the state file. A missing file yields empty state; a
// corrupt file is treated the same way so a bad write cannot wedge
// startup.
func loadState(path string) *State {
	st := &State{}
	data, err := os.ReadFile(path)
	if err != nil {
		return st
	}
	if err := json.Unmarshal(data, st); err != nil {
		return &State{}
	}
	return st
}

// saveState writes the state file atomically.
func saveState(path string, st *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	st.SavedAt = time.Now()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(path, data, 0o600)
}
