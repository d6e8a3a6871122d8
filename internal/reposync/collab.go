// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reposync synchronizes repositories with the semantic code index.
package reposync

import (
	"context"

	"github.com/jeranaias/codesync/internal/model"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Chunker splits file content into semantic units. It may return an
// empty slice; it is not expected to fail on well-formed text.
type Chunker interface {
	Chunk(content, path, repository string) ([]model.Chunk, error)
}

// Storage is the vector store collaborator. Store reports rejection
// through ok=false with a message; a duplicate-content message is not
// an error condition.
type Storage interface {
	Store(ctx context.Context, c model.Chunk) (ok bool, message string, err error)
	Query(ctx context.Context, text string, limit int) ([]model.QueryResult, error)
}

// ChunkDeleter is an optional Storage capability for removing every
// stored chunk of one file. Backends without it leave stale chunks for
// lazy garbage collection; the sync pass still counts them as deleted.
type ChunkDeleter interface {
	DeleteByFile(ctx context.Context, repository, path string) (int, error)
}

// duplicateMessage is the storage backend's rejection message for
// content that is already stored.
const duplicateMessage = "Duplicate content detected"
