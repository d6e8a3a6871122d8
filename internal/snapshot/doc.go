// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package snapshot persists per-repository file snapshots for incremental sync.
//
// The store keeps, for every synced repository, the file metadata map
// produced by the last successful scan plus the repository's durable
// sync record. Incremental syncs diff the current scan against the
// snapshot, so persisting it lets change detection survive restarts.
//
// The snapshot is process-local state: it is only ever mutated by the
// owning repository's sync operation, never shared across processes.
package snapshot
