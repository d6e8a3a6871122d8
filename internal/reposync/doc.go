// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reposync synchronizes repositories with the semantic code index.
//
// A sync pass scans the repository, diffs the scan against the persisted
// snapshot, and delegates chunking and storage of new and modified files
// to the configured collaborators. Full mode treats every scanned file
// as new; incremental mode processes only the difference. The pass is
// synchronous: the returned SyncResult is fully resolved before Sync
// returns and is never mutated afterward.
//
// The vector store is the one shared resource across processes, so all
// storage mutation happens under the advisory StorageLock, and store
// calls are paced by a shared rate limiter.
package reposync
