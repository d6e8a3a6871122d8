// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for codesync.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.codesync/config.toml
//   - ~/.codesync/config.json
//   - Built-in defaults
//
// Environment variables (CODESYNC_*) override whatever was loaded.
package config
