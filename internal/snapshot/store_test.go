// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codesync/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snapshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshotEmptyRepository(t *testing.T) {
	s := openTestStore(t)

	files, err := s.Snapshot(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestReplaceAndSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	files := map[string]*model.FileMetadata{
		"main.go": {Path: "main.go", Size: 42, MTime: now, ContentHash: "aa", LastSynced: now, ChunkCount: 3},
		"util.go": {Path: "util.go", Size: 7, MTime: now, ContentHash: "bb"},
	}
	require.NoError(t, s.Replace(ctx, "demo", files))

	got, err := s.Snapshot(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "aa", got["main.go"].ContentHash)
	assert.Equal(t, 3, got["main.go"].ChunkCount)
	assert.True(t, got["util.go"].LastSynced.IsZero(), "never-stored file keeps zero LastSynced")

	// Replacing drops files absent from the new map.
	require.NoError(t, s.Replace(ctx, "demo", map[string]*model.FileMetadata{
		"main.go": files["main.go"],
	}))
	got, err = s.Snapshot(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got, "main.go")
}

func TestSnapshotsAreScopedByRepository(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFile(ctx, "alpha", &model.FileMetadata{Path: "a.go", MTime: time.Now(), ContentHash: "a1"}))
	require.NoError(t, s.UpsertFile(ctx, "beta", &model.FileMetadata{Path: "b.go", MTime: time.Now(), ContentHash: "b1"}))

	alpha, err := s.Snapshot(ctx, "alpha")
	require.NoError(t, err)
	assert.Len(t, alpha, 1)
	assert.Contains(t, alpha, "a.go")
}

func TestUpsertAndDeleteFile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	meta := &model.FileMetadata{Path: "x.py", Size: 1, MTime: time.Now(), ContentHash: "v1"}
	require.NoError(t, s.UpsertFile(ctx, "demo", meta))

	meta.ContentHash = "v2"
	require.NoError(t, s.UpsertFile(ctx, "demo", meta))

	got, err := s.Snapshot(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "v2", got["x.py"].ContentHash)

	require.NoError(t, s.DeleteFile(ctx, "demo", "x.py"))
	got, err = s.Snapshot(ctx, "demo")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRepositoryRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Record(ctx, "demo")
	assert.ErrorIs(t, err, ErrRepositoryNotFound)

	rec := &model.RepositoryRecord{
		Name: "demo", Path: "/srv/demo", LastSync: time.Now(),
		SyncType: model.SyncFull, TotalFiles: 10, TotalChunks: 40,
	}
	require.NoError(t, s.SaveRecord(ctx, rec))

	got, err := s.Record(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "/srv/demo", got.Path)
	assert.Equal(t, model.SyncFull, got.SyncType)

	// Updates overwrite in place.
	rec.SyncType = model.SyncIncremental
	rec.TotalChunks = 44
	require.NoError(t, s.SaveRecord(ctx, rec))

	got, err = s.Record(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, model.SyncIncremental, got.SyncType)
	assert.Equal(t, 44, got.TotalChunks)

	records, err := s.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	ok, err := s.HasRepository(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HasRepository(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertFile(ctx, "demo", &model.FileMetadata{Path: "a.go", MTime: time.Now(), ContentHash: "zz"}))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Snapshot(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "zz", got["a.go"].ContentHash)
}
