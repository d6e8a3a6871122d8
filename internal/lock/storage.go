// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lock provides cross-process mutual exclusion for codesync.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jeranaias/codesync/internal/util"
)

// ErrLockTimeout indicates the lock could not be acquired within the deadline.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// pollInterval is the delay between non-blocking acquisition attempts.
const pollInterval = 100 * time.Millisecond

// =============================================================================
// LOCK STATISTICS
// =============================================================================

// Stats are the durable acquisition statistics for a StorageLock.
// They are persisted as JSON beside the lock file and survive restarts.
type Stats struct {
	TotalAcquisitions  int64      `json:"total_acquisitions"`
	TotalWaitTime      float64    `json:"total_wait_time"` // seconds
	MaxWaitTime        float64    `json:"max_wait_time"`   // seconds
	FailedAcquisitions int64      `json:"failed_acquisitions"`
	ActiveLocks        int        `json:"active_locks"`
	LastAcquisition    *time.Time `json:"last_acquisition"`
}

// AverageWaitTime returns the mean wait in seconds across all acquisitions.
func (s Stats) AverageWaitTime() float64 {
	if s.TotalAcquisitions == 0 {
		return 0
	}
	return s.TotalWaitTime / float64(s.TotalAcquisitions)
}

// =============================================================================
// STORAGE LOCK
// =============================================================================

// StorageLock serializes access to the shared storage backend across
// processes using an advisory flock. Acquisition polls a non-blocking
// lock attempt until a deadline; failures fail closed with ErrLockTimeout.
type StorageLock struct {
	lockFile  string
	statsFile string
	timeout   time.Duration

	mu    sync.Mutex
	fd    int
	held  bool
	stats Stats
}

// NewStorageLock creates a storage lock rooted in dir. The lock file and
// its stats JSON are created beside the storage data they guard.
func NewStorageLock(dir string, timeout time.Duration) (*StorageLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	l := &StorageLock{
		lockFile:  filepath.Join(dir, ".storage.lock"),
		statsFile: filepath.Join(dir, ".storage_stats.json"),
		timeout:   timeout,
		fd:        -1,
	}
	l.loadStats()
	return l, nil
}

// Acquire takes the lock, waiting up to the configured timeout (bounded
// further by ctx). On timeout the failure counter is persisted and
// ErrLockTimeout returned.
func (l *StorageLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return fmt.Errorf("storage lock already held by this instance")
	}

	start := time.Now()
	deadline := start.Add(l.timeout)

	fd, err := unix.Open(l.lockFile, unix.O_RDWR|unix.O_CREAT, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			wait := time.Since(start)
			l.fd = fd
			l.held = true

			now := time.Now()
			l.stats.TotalAcquisitions++
			l.stats.TotalWaitTime += wait.Seconds()
			if wait.Seconds() > l.stats.MaxWaitTime {
				l.stats.MaxWaitTime = wait.Seconds()
			}
			l.stats.ActiveLocks++
			l.stats.LastAcquisition = &now
			l.saveStats()
			return nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			unix.Close(fd)
			return fmt.Errorf("flock failed: %w", err)
		}

		if time.Now().After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			unix.Close(fd)
			l.stats.FailedAcquisitions++
			l.saveStats()
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	unix.Close(fd)
	l.stats.FailedAcquisitions++
	l.saveStats()
	return fmt.Errorf("%w: after %s", ErrLockTimeout, l.timeout)
}

// Release drops the lock. Safe to call when not held.
func (l *StorageLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return
	}

	if err := unix.Flock(l.fd, unix.LOCK_UN); err != nil {
		log.Printf("lock: error unlocking storage lock: %v", err)
	}
	unix.Close(l.fd)
	l.fd = -1
	l.held = false

	if l.stats.ActiveLocks > 0 {
		l.stats.ActiveLocks--
	}
	l.saveStats()
}

// WithLock runs fn while holding the lock, releasing on every exit path.
func (l *StorageLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// Stats returns a copy of the current statistics.
func (l *StorageLock) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// loadStats reads the persisted stats file. Missing or corrupt stats
// start fresh; the lock itself is unaffected.
func (l *StorageLock) loadStats() {
	data, err := os.ReadFile(l.statsFile)
	if err != nil {
		return
	}
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		log.Printf("lock: ignoring corrupt stats file %s: %v", l.statsFile, err)
		return
	}
	// Active locks from a previous process are gone by definition.
	s.ActiveLocks = 0
	l.stats = s
}

// saveStats persists the stats JSON atomically. Must be called with mu held.
func (l *StorageLock) saveStats() {
	data, err := json.MarshalIndent(l.stats, "", "  ")
	if err != nil {
		return
	}
	if err := util.AtomicWriteFile(l.statsFile, data, 0644); err != nil {
		log.Printf("lock: failed to save stats: %v", err)
	}
}
