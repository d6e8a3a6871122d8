// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package discover finds code repositories under configured scan roots.
//
// A directory qualifies as a repository when it carries at least one
// indicator (VCS marker, build or manifest file, project marker, or a
// README) and at least a minimum number of source files somewhere
// beneath it. A qualified directory's subtree is never descended
// further, so repositories do not nest. Sibling subtrees scan
// concurrently and permission errors are swallowed per subtree.
package discover
