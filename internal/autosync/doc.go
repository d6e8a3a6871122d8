// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package autosync schedules automatic repository synchronization.
//
// A Manager runs two cooperating loops over one bounded queue: the scan
// loop periodically discovers repositories, drops the ones already
// synced, prioritizes the rest, and enqueues them; the sync loop admits
// up to a configured number of concurrent sync runs, tracked by live
// task count. Over-capacity candidates go back on the queue and the
// loop backs off; failed syncs are re-enqueued after a delay rather
// than dropped. The synced set and last scan time persist to a JSON
// state file across restarts.
package autosync
