// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watch delivers debounced file change events for watched repositories.
//
// One fsnotify observer serves every watched repository root. Raw
// create/write/remove/rename events are coalesced per absolute path: a
// new event for a path cancels and restarts that path's debounce timer,
// so a burst of rapid edits produces exactly one logical event after the
// quiet period. Only recognized code files propagate to the callback,
// and callback panics are recovered and logged so they can never kill
// the watcher loop.
package watch
