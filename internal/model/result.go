// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for repository synchronization.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SYNC RESULT
// =============================================================================

// SyncResult accumulates the counters and errors for one sync operation.
//
// A result belongs to the sync call that created it. The call resolves it
// fully before returning; callers observing a returned result never race
// with further mutation.
type SyncResult struct {
	// ID uniquely identifies the sync operation.
	ID string

	// RepositoryName and RepositoryPath identify the target.
	RepositoryName string
	RepositoryPath string

	// SyncType records the strategy that was actually executed.
	SyncType SyncType

	// File counters.
	TotalFiles     int
	ProcessedFiles int
	NewFiles       int
	ModifiedFiles  int
	DeletedFiles   int

	// Chunk counters.
	TotalChunks     int
	NewChunks       int
	UpdatedChunks   int
	DeletedChunks   int
	DuplicateChunks int

	// Duration is the wall-clock time of the sync pass.
	Duration time.Duration

	// Errors collects per-file failures. A non-empty list does not mean
	// the sync failed; it lowers the success rate instead.
	Errors []string
}

// NewSyncResult creates an empty result for a sync of the given repository.
func NewSyncResult(name, path string, syncType SyncType) *SyncResult {
	return &SyncResult{
		ID:             uuid.New().String(),
		RepositoryName: name,
		RepositoryPath: path,
		SyncType:       syncType,
	}
}

// AddError records a per-file failure.
func (r *SyncResult) AddError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// SuccessRate returns processed/total as a percentage.
// An empty repository counts as fully successful.
func (r *SyncResult) SuccessRate() float64 {
	if r.TotalFiles == 0 {
		return 100.0
	}
	return float64(r.ProcessedFiles) / float64(r.TotalFiles) * 100.0
}

// Summary returns a one-line summary of the result.
func (r *SyncResult) Summary() string {
	return fmt.Sprintf("%s: %d files (%d new, %d modified, %d deleted), %d chunks, %.1f%% in %.2fs",
		r.RepositoryName, r.TotalFiles, r.NewFiles, r.ModifiedFiles, r.DeletedFiles,
		r.TotalChunks, r.SuccessRate(), r.Duration.Seconds())
}
