// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions for the codesync daemon.
//
// This package contains small helpers shared by the other packages,
// primarily crash-safe file writes for persisted state.
package util
