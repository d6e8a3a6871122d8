// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lock provides cross-process mutual exclusion for codesync.
package lock

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// =============================================================================
// PROCESS LOCK
// =============================================================================

// ProcessLock ensures only one codesync process runs per lock name.
//
// The lock is a plain-integer PID file at ~/.codesync/<name>.pid. A live
// owning process (verified with a signal-0 existence probe) blocks
// acquisition; a dead owner's file is removed and acquisition retried.
type ProcessLock struct {
	name    string
	pidFile string

	mu       sync.Mutex
	acquired bool
	sigOnce  sync.Once
}

// NewProcessLock creates a process lock with the given name.
// The PID file lives under ~/.codesync.
func NewProcessLock(name string) (*ProcessLock, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".codesync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &ProcessLock{
		name:    name,
		pidFile: filepath.Join(dir, name+".pid"),
	}, nil
}

// NewProcessLockAt creates a process lock with an explicit PID file path.
// Used by tests and by hosts that manage their own state directory.
func NewProcessLockAt(pidFile string) *ProcessLock {
	return &ProcessLock{
		name:    strings.TrimSuffix(filepath.Base(pidFile), ".pid"),
		pidFile: pidFile,
	}
}

// Acquire tries to take the lock. It returns true on success and false
// when another live process holds it. Stale PID files are cleaned up.
func (l *ProcessLock) Acquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if data, err := os.ReadFile(l.pidFile); err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		switch {
		case convErr != nil:
			// Corrupt PID file: remove and continue.
			log.Printf("lock: removing corrupt PID file %s", l.pidFile)
			os.Remove(l.pidFile)
		case pid == os.Getpid():
			// Our own PID left behind; reclaim it.
			log.Printf("lock: PID file %s already names this process, reclaiming", l.pidFile)
			os.Remove(l.pidFile)
		case processAlive(pid):
			return false, nil
		default:
			log.Printf("lock: removing stale PID file for dead process %d", pid)
			os.Remove(l.pidFile)
		}
	}

	if err := os.WriteFile(l.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return false, fmt.Errorf("failed to write PID file: %w", err)
	}
	l.acquired = true

	// Automatic release on termination signals. Registered once per lock.
	l.sigOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-ch
			l.Release()
			signal.Stop(ch)
			// Re-deliver so the default handler terminates the process.
			unix.Kill(os.Getpid(), sig.(syscall.Signal))
		}()
	})

	return true, nil
}

// Release removes the PID file if it still names this process.
func (l *ProcessLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.acquired {
		return
	}
	l.acquired = false

	data, err := os.ReadFile(l.pidFile)
	if err != nil {
		return
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid == os.Getpid() {
		os.Remove(l.pidFile)
	}
}

// IsLocked reports whether the lock is held by a live process, and by whom.
func (l *ProcessLock) IsLocked() (bool, int) {
	data, err := os.ReadFile(l.pidFile)
	if err != nil {
		return false, 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}
	if processAlive(pid) {
		return true, pid
	}
	return false, 0
}

// processAlive probes PID existence with signal 0. EPERM means the
// process exists but belongs to another user, which still counts as alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == unix.EPERM
}
