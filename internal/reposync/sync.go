// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reposync synchronizes repositories with the semantic code index.
package reposync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jeranaias/codesync/internal/lock"
	"github.com/jeranaias/codesync/internal/model"
	"github.com/jeranaias/codesync/internal/scanner"
	"github.com/jeranaias/codesync/internal/snapshot"
	"github.com/jeranaias/codesync/internal/watch"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrInvalidPath indicates the sync target does not exist or is not a
// directory. Validation fails before any side effect.
var ErrInvalidPath = errors.New("invalid repository path")

// =============================================================================
// SYNCER
// =============================================================================

const (
	// defaultBatchSize bounds the number of files processed concurrently
	// within one sync pass.
	defaultBatchSize = 8

	// defaultStoreRate and defaultStoreBurst pace calls to the storage
	// backend so a large sync cannot saturate it.
	defaultStoreRate  = rate.Limit(500)
	defaultStoreBurst = 50
)

// Options configures optional Syncer behavior. The zero value selects
// defaults.
type Options struct {
	// Watcher, when set, is registered with each successfully synced
	// repository for real-time updates.
	Watcher *watch.Watcher

	// StorageLock, when set, guards the storage mutation phase of each
	// sync pass.
	StorageLock *lock.StorageLock

	// BatchSize bounds concurrent per-file processing. 0 means default.
	BatchSize int

	// StoreRate and StoreBurst configure storage-call pacing.
	// 0 means default.
	StoreRate  rate.Limit
	StoreBurst int
}

// Syncer drives repository synchronization against the chunking and
// storage collaborators, with snapshots persisted between passes.
type Syncer struct {
	scanner *scanner.Scanner
	chunker Chunker
	storage Storage
	snap    *snapshot.Store

	watcher *watch.Watcher
	slock   *lock.StorageLock
	limiter *rate.Limiter
	batch   int
}

// New creates a Syncer. scanner, chunker, storage, and snap are required.
func New(sc *scanner.Scanner, chunker Chunker, storage Storage, snap *snapshot.Store, opts Options) *Syncer {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	r := opts.StoreRate
	if r <= 0 {
		r = defaultStoreRate
	}
	burst := opts.StoreBurst
	if burst <= 0 {
		burst = defaultStoreBurst
	}

	return &Syncer{
		scanner: sc,
		chunker: chunker,
		storage: storage,
		snap:    snap,
		watcher: opts.Watcher,
		slock:   opts.StorageLock,
		limiter: rate.NewLimiter(r, burst),
		batch:   batch,
	}
}

// =============================================================================
// SYNC
// =============================================================================

// Sync synchronizes one repository and returns the fully resolved result.
//
// Incremental mode diffs the current scan against the persisted snapshot;
// a missing or empty snapshot falls back to a full pass, and forceFull
// always runs one. Per-file failures accumulate in the result without
// aborting the pass. An invalid path or a storage lock timeout aborts
// with an error and no side effects beyond lock stats.
func (s *Syncer) Sync(ctx context.Context, path, name string, incremental, forceFull bool) (*model.SyncResult, error) {
	start := time.Now()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", ErrInvalidPath, absPath)
	}

	cached, err := s.snap.Snapshot(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", name, err)
	}

	syncType := model.SyncIncremental
	if !incremental || forceFull || len(cached) == 0 {
		syncType = model.SyncFull
	}

	result := model.NewSyncResult(name, absPath, syncType)
	log.Printf("reposync: starting %s sync of %s", syncType, name)

	current, err := s.scanner.Scan(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", name, err)
	}
	result.TotalFiles = len(current)

	newFiles, modified, deleted := classify(syncType, current, cached)

	// The storage backend is shared across processes; mutate it only
	// while holding the advisory lock.
	err = s.withStorageLock(ctx, func() error {
		s.processBatch(ctx, result, absPath, name, newFiles, current, nil)
		s.processBatch(ctx, result, absPath, name, modified, current, cached)
		s.removeDeleted(ctx, result, name, deleted, cached)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// A cancelled pass leaves the previous snapshot in place; the work
	// already stored is reconciled by the next sync.
	if ctx.Err() != nil {
		result.Duration = time.Since(start)
		return result, ctx.Err()
	}

	if err := s.snap.Replace(ctx, name, current); err != nil {
		return nil, fmt.Errorf("persist snapshot for %s: %w", name, err)
	}

	rec := &model.RepositoryRecord{
		Name:        name,
		Path:        absPath,
		LastSync:    time.Now(),
		SyncType:    syncType,
		TotalFiles:  result.TotalFiles,
		TotalChunks: result.TotalChunks,
	}
	if err := s.snap.SaveRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("save record for %s: %w", name, err)
	}

	if s.watcher != nil && !s.watcher.IsWatching(absPath) {
		if err := s.watcher.AddRepository(absPath, name); err != nil {
			result.AddError("watch %s: %v", absPath, err)
		} else if err := s.watcher.Start(); err != nil {
			result.AddError("start watcher: %v", err)
		}
	}

	result.Duration = time.Since(start)
	log.Printf("reposync: %s", result.Summary())
	return result, nil
}

// classify splits the current scan into new, modified, and deleted
// relative paths. A full pass reports everything as new.
func classify(syncType model.SyncType, current, cached map[string]*model.FileMetadata) (newFiles, modified, deleted []string) {
	if syncType == model.SyncFull {
		for rel := range current {
			newFiles = append(newFiles, rel)
		}
		return newFiles, nil, nil
	}

	for rel, meta := range current {
		prev, ok := cached[rel]
		switch {
		case !ok:
			newFiles = append(newFiles, rel)
		case meta.ContentHash != prev.ContentHash:
			modified = append(modified, rel)
		}
	}
	for rel := range cached {
		if _, ok := current[rel]; !ok {
			deleted = append(deleted, rel)
		}
	}
	return newFiles, modified, deleted
}

// processBatch chunks and stores the given files on a bounded pool.
// cached is non-nil for modified files, whose prior chunks are removed
// before the new ones are stored.
func (s *Syncer) processBatch(ctx context.Context, result *model.SyncResult, root, repository string, rels []string, current, cached map[string]*model.FileMetadata) {
	if len(rels) == 0 {
		return
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batch)

	for _, rel := range rels {
		rel := rel
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			isModified := cached != nil
			var stale int
			if isModified {
				n, err := s.deleteFileChunks(gctx, repository, rel, cached[rel].ChunkCount)
				if err != nil {
					mu.Lock()
					result.AddError("delete chunks for %s: %v", rel, err)
					mu.Unlock()
					return nil
				}
				stale = n
			}

			chunks, dups, err := s.processFile(gctx, root, repository, rel)
			if err != nil {
				mu.Lock()
				result.AddError("process %s: %v", rel, err)
				mu.Unlock()
				return nil
			}

			meta := current[rel]
			meta.ChunkCount = chunks
			meta.LastSynced = time.Now()

			mu.Lock()
			result.ProcessedFiles++
			result.TotalChunks += chunks
			result.DuplicateChunks += dups
			if isModified {
				result.ModifiedFiles++
				result.UpdatedChunks += chunks
				result.DeletedChunks += stale
			} else {
				result.NewFiles++
				result.NewChunks += chunks
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
}

// removeDeleted invalidates chunks for files that vanished from disk.
func (s *Syncer) removeDeleted(ctx context.Context, result *model.SyncResult, repository string, rels []string, cached map[string]*model.FileMetadata) {
	for _, rel := range rels {
		n, err := s.deleteFileChunks(ctx, repository, rel, cached[rel].ChunkCount)
		if err != nil {
			result.AddError("delete chunks for %s: %v", rel, err)
			continue
		}
		result.DeletedFiles++
		result.DeletedChunks += n
	}
}

// processFile reads, chunks, and stores one file. It returns the chunk
// count and how many of those the backend rejected as duplicates.
func (s *Syncer) processFile(ctx context.Context, root, repository, rel string) (chunks, duplicates int, err error) {
	full := filepath.Join(root, filepath.FromSlash(rel))
	content, err := os.ReadFile(full)
	if err != nil {
		return 0, 0, err
	}

	units, err := s.chunker.Chunk(string(content), rel, repository)
	if err != nil {
		return 0, 0, fmt.Errorf("chunk: %w", err)
	}

	for _, c := range units {
		if err := s.limiter.Wait(ctx); err != nil {
			return len(units), duplicates, err
		}
		ok, message, err := s.storage.Store(ctx, c)
		if err != nil {
			return len(units), duplicates, fmt.Errorf("store chunk %s: %w", c.ID, err)
		}
		switch {
		case ok:
		case strings.Contains(message, duplicateMessage):
			duplicates++
		default:
			log.Printf("reposync: store rejected chunk %s: %s", c.ID, message)
		}
	}
	return len(units), duplicates, nil
}

// deleteFileChunks removes a file's stored chunks when the backend can,
// and otherwise reports the stale count for lazy garbage collection.
func (s *Syncer) deleteFileChunks(ctx context.Context, repository, rel string, cachedCount int) (int, error) {
	if d, ok := s.storage.(ChunkDeleter); ok {
		return d.DeleteByFile(ctx, repository, rel)
	}
	// Backend cannot delete by file. Stale chunks are superseded by the
	// fresh ones and collected lazily.
	return cachedCount, nil
}

// withStorageLock runs fn under the storage lock when one is configured.
func (s *Syncer) withStorageLock(ctx context.Context, fn func() error) error {
	if s.slock == nil {
		return fn()
	}
	return s.slock.WithLock(ctx, fn)
}

// =============================================================================
// REAL-TIME UPDATES
// =============================================================================

// HandleChange applies one debounced watcher event to the index: created
// and modified files are re-chunked and stored, deleted and moved files
// have their chunks invalidated and their snapshot entries removed.
func (s *Syncer) HandleChange(ctx context.Context, ev model.FileChangeEvent, repository string) error {
	rec, err := s.snap.Record(ctx, repository)
	if err != nil {
		return fmt.Errorf("unknown repository %s: %w", repository, err)
	}

	rel, err := filepath.Rel(rec.Path, ev.Path)
	if err != nil {
		return fmt.Errorf("path %s outside repository %s: %w", ev.Path, repository, err)
	}
	rel = filepath.ToSlash(rel)

	switch ev.Type {
	case model.ChangeCreated, model.ChangeModified:
		return s.applyUpsert(ctx, rec, repository, rel, ev.Type)
	case model.ChangeDeleted, model.ChangeMoved:
		return s.applyDelete(ctx, repository, rel)
	}
	return nil
}

// applyUpsert re-indexes one created or modified file.
func (s *Syncer) applyUpsert(ctx context.Context, rec *model.RepositoryRecord, repository, rel string, change model.ChangeType) error {
	meta, err := s.scanner.HashFile(rec.Path, rel)
	if err != nil {
		// The file may already be gone again. Treat as deletion.
		if os.IsNotExist(err) {
			return s.applyDelete(ctx, repository, rel)
		}
		return err
	}

	return s.withStorageLock(ctx, func() error {
		cached, err := s.snap.Snapshot(ctx, repository)
		if err != nil {
			return err
		}
		if prev, ok := cached[rel]; ok && change == model.ChangeModified {
			if prev.ContentHash == meta.ContentHash {
				return nil // content unchanged, nothing to do
			}
			if _, err := s.deleteFileChunks(ctx, repository, rel, prev.ChunkCount); err != nil {
				return err
			}
		}

		chunks, _, err := s.processFile(ctx, rec.Path, repository, rel)
		if err != nil {
			return err
		}
		meta.ChunkCount = chunks
		meta.LastSynced = time.Now()
		return s.snap.UpsertFile(ctx, repository, meta)
	})
}

// applyDelete invalidates one file's chunks and snapshot entry.
func (s *Syncer) applyDelete(ctx context.Context, repository, rel string) error {
	return s.withStorageLock(ctx, func() error {
		cached, err := s.snap.Snapshot(ctx, repository)
		if err != nil {
			return err
		}
		prev, ok := cached[rel]
		if !ok {
			return nil
		}
		if _, err := s.deleteFileChunks(ctx, repository, rel, prev.ChunkCount); err != nil {
			return err
		}
		return s.snap.DeleteFile(ctx, repository, rel)
	})
}

// =============================================================================
// STATUS
// =============================================================================

// RepositoryStatus combines the durable record with live state.
type RepositoryStatus struct {
	model.RepositoryRecord

	// CachedFiles is the number of files in the persisted snapshot.
	CachedFiles int

	// Watching reports whether the repository is registered with the
	// file watcher.
	Watching bool
}

// RepositoryStatus returns the status of one synced repository.
func (s *Syncer) RepositoryStatus(ctx context.Context, name string) (*RepositoryStatus, error) {
	rec, err := s.snap.Record(ctx, name)
	if err != nil {
		return nil, err
	}
	files, err := s.snap.Snapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	return &RepositoryStatus{
		RepositoryRecord: *rec,
		CachedFiles:      len(files),
		Watching:         s.watcher != nil && s.watcher.IsWatching(rec.Path),
	}, nil
}

// ListRepositories returns the status of every synced repository.
func (s *Syncer) ListRepositories(ctx context.Context) ([]*RepositoryStatus, error) {
	recs, err := s.snap.Records(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*RepositoryStatus, 0, len(recs))
	for _, rec := range recs {
		st, err := s.RepositoryStatus(ctx, rec.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
