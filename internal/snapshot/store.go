// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package snapshot persists per-repository file snapshots for incremental sync.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/codesync/internal/model"
)

// ErrRepositoryNotFound indicates no record exists for the repository name.
var ErrRepositoryNotFound = errors.New("repository not found")

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed snapshot and repository-record store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the snapshot database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// FILE SNAPSHOTS
// =============================================================================

// Snapshot returns the cached file metadata for a repository,
// keyed by relative path. An unknown repository returns an empty map.
func (s *Store) Snapshot(ctx context.Context, repository string) (map[string]*model.FileMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, size, mtime, content_hash, last_synced, chunk_count
		FROM files WHERE repository = ?
	`, repository)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	files := make(map[string]*model.FileMetadata)
	for rows.Next() {
		var meta model.FileMetadata
		var mtime, lastSynced int64
		if err := rows.Scan(&meta.Path, &meta.Size, &mtime, &meta.ContentHash, &lastSynced, &meta.ChunkCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		meta.MTime = time.Unix(0, mtime)
		if lastSynced > 0 {
			meta.LastSynced = time.Unix(0, lastSynced)
		}
		files[meta.Path] = &meta
	}
	return files, rows.Err()
}

// Replace swaps the repository's snapshot for the given file map in one
// transaction.
func (s *Store) Replace(ctx context.Context, repository string, files map[string]*model.FileMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE repository = ?", repository); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	for _, meta := range files {
		if err := upsertFileTx(ctx, tx, repository, meta); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpsertFile inserts or updates one file's snapshot entry.
func (s *Store) UpsertFile(ctx context.Context, repository string, meta *model.FileMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertFileTx(ctx, tx, repository, meta); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertFileTx(ctx context.Context, tx *sql.Tx, repository string, meta *model.FileMetadata) error {
	var lastSynced int64
	if !meta.LastSynced.IsZero() {
		lastSynced = meta.LastSynced.UnixNano()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO files (repository, path, size, mtime, content_hash, last_synced, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository, path) DO UPDATE SET
			size = excluded.size,
			mtime = excluded.mtime,
			content_hash = excluded.content_hash,
			last_synced = excluded.last_synced,
			chunk_count = excluded.chunk_count
	`, repository, meta.Path, meta.Size, meta.MTime.UnixNano(), meta.ContentHash, lastSynced, meta.ChunkCount)
	if err != nil {
		return fmt.Errorf("failed to upsert file %s: %w", meta.Path, err)
	}
	return nil
}

// DeleteFile removes one file's snapshot entry.
func (s *Store) DeleteFile(ctx context.Context, repository, path string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE repository = ? AND path = ?", repository, path)
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// REPOSITORY RECORDS
// =============================================================================

// SaveRecord inserts or updates a repository's durable sync record.
// Records are never deleted automatically.
func (s *Store) SaveRecord(ctx context.Context, rec *model.RepositoryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (name, path, last_sync, sync_type, total_files, total_chunks)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			path = excluded.path,
			last_sync = excluded.last_sync,
			sync_type = excluded.sync_type,
			total_files = excluded.total_files,
			total_chunks = excluded.total_chunks
	`, rec.Name, rec.Path, rec.LastSync.UnixNano(), string(rec.SyncType), rec.TotalFiles, rec.TotalChunks)
	if err != nil {
		return fmt.Errorf("failed to save repository record: %w", err)
	}
	return nil
}

// Record returns the sync record for a repository name.
func (s *Store) Record(ctx context.Context, name string) (*model.RepositoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, path, last_sync, sync_type, total_files, total_chunks
		FROM repositories WHERE name = ?
	`, name)

	var (
		rec      model.RepositoryRecord
		lastSync int64
		syncType string
	)
	err := row.Scan(&rec.Name, &rec.Path, &lastSync, &syncType, &rec.TotalFiles, &rec.TotalChunks)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query repository record: %w", err)
	}
	rec.LastSync = time.Unix(0, lastSync)
	rec.SyncType = model.SyncType(syncType)
	return &rec, nil
}

// Records lists every repository's sync record.
func (s *Store) Records(ctx context.Context) ([]*model.RepositoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, path, last_sync, sync_type, total_files, total_chunks
		FROM repositories ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query repository records: %w", err)
	}
	defer rows.Close()

	var records []*model.RepositoryRecord
	for rows.Next() {
		var (
			rec      model.RepositoryRecord
			lastSync int64
			syncType string
		)
		if err := rows.Scan(&rec.Name, &rec.Path, &lastSync, &syncType, &rec.TotalFiles, &rec.TotalChunks); err != nil {
			return nil, fmt.Errorf("failed to scan repository record: %w", err)
		}
		rec.LastSync = time.Unix(0, lastSync)
		rec.SyncType = model.SyncType(syncType)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// HasRepository reports whether a sync record exists for the name.
func (s *Store) HasRepository(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM repositories WHERE name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to probe repository: %w", err)
	}
	return n > 0, nil
}
