// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scanner walks repository trees and hashes eligible source files.
//
// The scanner enumerates a repository recursively, skipping excluded
// directories (VCS metadata, build output, dependency trees, virtualenvs)
// and files that are too large or not recognized source code. Eligible
// files are hashed with SHA-256 over their full contents on a bounded
// worker pool. I/O and permission errors are per-file: the file is
// skipped and the scan continues.
package scanner
