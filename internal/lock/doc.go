// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lock provides cross-process mutual exclusion for codesync.
//
// Two primitives are provided:
//
//   - ProcessLock: a PID-file-backed single-instance lock. Only one
//     codesync process per lock name may run at a time. Stale PID files
//     left by dead processes are detected and removed.
//
//   - StorageLock: an advisory file lock (flock) guarding the shared
//     storage backend, with polled timeout-bounded acquisition and
//     durable wait-time statistics persisted as JSON beside the lock
//     file.
//
// Both tokens survive process restart as filesystem state. All
// acquisition is timeout-bounded and fails with an error rather than
// deadlocking.
package lock
