// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package snapshot persists per-repository file snapshots for incremental sync.
package snapshot

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// SQLite schema for the snapshot store
const Schema = `
-- Metadata table for schema version
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Files table: last-scanned state of every file in every synced repository
CREATE TABLE IF NOT EXISTS files (
    repository TEXT NOT NULL,
    path TEXT NOT NULL,          -- relative to the repository root
    size INTEGER NOT NULL,
    mtime INTEGER NOT NULL,      -- Unix nanoseconds
    content_hash TEXT NOT NULL,  -- hex SHA-256 of the raw bytes
    last_synced INTEGER NOT NULL,-- Unix nanoseconds, 0 = never stored
    chunk_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (repository, path)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_files_repository ON files(repository);

-- Repositories table: durable per-repository sync records
CREATE TABLE IF NOT EXISTS repositories (
    name TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    last_sync INTEGER NOT NULL,  -- Unix nanoseconds
    sync_type TEXT NOT NULL,     -- full or incremental
    total_files INTEGER NOT NULL,
    total_chunks INTEGER NOT NULL
) WITHOUT ROWID;
`

// InitMetadata initializes the metadata table with default values
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
`
