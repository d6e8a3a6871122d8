// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for repository synchronization.
//
// This package defines the core domain types used throughout the application
// for representing scanned files, sync results, discovered repositories,
// and file change events.
//
// # Key Types
//
//   - FileMetadata: Per-file scan record (size, mtime, content hash)
//   - RepositoryRecord: Durable per-repository sync record
//   - SyncResult: Counters and errors for one sync operation
//   - RepositoryInfo: Ephemeral discovery candidate
//   - FileChangeEvent: Debounced file system change notification
//   - Chunk: Semantic unit of source code handed to the storage backend
//
// # Design Notes
//
// Types in this package are plain data with small derived-value methods.
// A SyncResult is owned by exactly one sync call: it is created at sync
// start and fully resolved before the call returns, never mutated by a
// background task afterward.
package model
