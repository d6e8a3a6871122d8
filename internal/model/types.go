// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for repository synchronization.
package model

import (
	"path/filepath"
	"strings"
	"time"
)

// =============================================================================
// FILE METADATA
// =============================================================================

// FileMetadata describes a single file observed during a repository scan.
type FileMetadata struct {
	// Path is the path relative to the repository root, using forward slashes.
	Path string `json:"path"`

	// Size is the file size in bytes at scan time.
	Size int64 `json:"size"`

	// MTime is the file modification time at scan time.
	MTime time.Time `json:"mtime"`

	// ContentHash is the hex-encoded SHA-256 of the raw file bytes at scan time.
	ContentHash string `json:"content_hash"`

	// LastSynced is when the file's chunks were last stored successfully.
	// Zero until the first successful store.
	LastSynced time.Time `json:"last_synced"`

	// ChunkCount is the number of chunks produced for the file.
	// Only valid after a successful store.
	ChunkCount int `json:"chunk_count"`
}

// =============================================================================
// REPOSITORY RECORD
// =============================================================================

// SyncType identifies the strategy used for a sync pass.
type SyncType string

const (
	// SyncFull treats every scanned file as new.
	SyncFull SyncType = "full"

	// SyncIncremental diffs the current scan against the cached snapshot.
	SyncIncremental SyncType = "incremental"
)

// RepositoryRecord is the durable per-repository sync record.
// It is created on the first successful sync, updated on every sync,
// and never deleted automatically.
type RepositoryRecord struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	LastSync    time.Time `json:"last_sync"`
	SyncType    SyncType  `json:"sync_type"`
	TotalFiles  int       `json:"total_files"`
	TotalChunks int       `json:"total_chunks"`
}

// =============================================================================
// DISCOVERY
// =============================================================================

// RepositoryInfo describes a discovery candidate. It is consumed by the
// auto-sync priority queue and never persisted.
type RepositoryInfo struct {
	// Path is the absolute repository root.
	Path string

	// Name is derived from VCS remote config or the directory base name.
	Name string

	// VCS is the detected version control type ("git" or "unknown").
	VCS string

	// Language is the primary language by matching file count.
	Language string

	// Size is the cumulative size in bytes of the matching source files.
	Size int64

	// LastModified is the most recent mtime among the matching source files.
	LastModified time.Time

	// Indicators lists the markers that qualified the directory.
	Indicators []string
}

// =============================================================================
// FILE CHANGE EVENTS
// =============================================================================

// ChangeType classifies a file system change.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeMoved    ChangeType = "moved"
)

// FileChangeEvent is a debounced file system change notification.
type FileChangeEvent struct {
	// Path is the absolute path that changed.
	Path string

	// Type is the kind of change.
	Type ChangeType

	// Time is when the last raw event for the path arrived.
	Time time.Time

	// OldPath is the previous path for move events, empty otherwise.
	OldPath string
}

// codeExtensions are the file extensions recognized as source code.
// The scanner, watcher, and discovery all share this set so that a file
// classified as code in one component is code everywhere.
var codeExtensions = map[string]bool{
	".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".go": true, ".rs": true, ".java": true, ".rb": true, ".php": true,
	".cs": true, ".c": true, ".h": true, ".cpp": true, ".hpp": true,
	".cc": true,
}

// IsCodeFile reports whether path has a recognized source code extension.
func IsCodeFile(path string) bool {
	return codeExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsCodeFile reports whether the event's path is a recognized code file.
func (e FileChangeEvent) IsCodeFile() bool {
	return IsCodeFile(e.Path)
}

// =============================================================================
// CHUNKS
// =============================================================================

// Chunk is a semantic unit of source code (function, class, module)
// produced by the chunking collaborator and stored in the vector backend.
type Chunk struct {
	// ID identifies the chunk, typically "<file>:<start>-<end>:<hash8>".
	ID string

	// FilePath is the repository-relative path of the source file.
	FilePath string

	// Repository is the owning repository name.
	Repository string

	// Language is the chunk's source language.
	Language string

	// Text is the chunk content.
	Text string

	// StartLine and EndLine bound the chunk within the file (1-based).
	StartLine int
	EndLine   int

	// Type is the semantic kind: function, class, method, module, ...
	Type string
}

// QueryResult is a single hit returned by the storage collaborator.
type QueryResult struct {
	Chunk Chunk

	// Score is the backend's relevance score, higher is better.
	Score float64
}
