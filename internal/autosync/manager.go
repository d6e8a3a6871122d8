// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package autosync schedules automatic repository synchronization.
package autosync

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/codesync/internal/config"
	"github.com/jeranaias/codesync/internal/discover"
	"github.com/jeranaias/codesync/internal/model"
	"github.com/jeranaias/codesync/internal/snapshot"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Syncer runs one repository synchronization. *reposync.Syncer
// satisfies it.
type Syncer interface {
	Sync(ctx context.Context, path, name string, incremental, forceFull bool) (*model.SyncResult, error)
}

// Discoverer finds repositories under the configured scan roots.
type Discoverer interface {
	Discover(ctx context.Context) ([]*model.RepositoryInfo, error)
}

// =============================================================================
// MANAGER
// =============================================================================

const (
	// queueCapacity bounds the sync queue.
	queueCapacity = 1024

	// defaultRetryDelay is how long a failed sync waits before it is
	// re-enqueued.
	defaultRetryDelay = 5 * time.Minute

	// defaultBackoff is the pause after finding the sync loop over
	// capacity, and after a scan loop error.
	defaultBackoff = 10 * time.Second

	// startupTimeout bounds Start so a hang cannot block host
	// initialization.
	startupTimeout = 30 * time.Second
)

// Options configures optional Manager behavior.
type Options struct {
	// HostPaths are scan roots injected by the host, consulted first by
	// the path fallback chain.
	HostPaths []string

	// Discovery overrides the discovery engine. Nil builds one from the
	// resolved scan paths.
	Discovery Discoverer

	// Snapshot, when set, backs the synced-set existence probe for
	// repositories not present in the in-memory set.
	Snapshot *snapshot.Store

	// StateFile overrides the state file location.
	StateFile string

	// RetryDelay and Backoff override the scheduling delays. Zero means
	// default.
	RetryDelay time.Duration
	Backoff    time.Duration
}

// Manager owns the scan and sync loops.
type Manager struct {
	cfg       config.Config
	syncer    Syncer
	discovery Discoverer
	snap      *snapshot.Store
	stateFile string
	scanPaths []string
	hostPaths []string

	retryDelay time.Duration
	backoff    time.Duration

	queue   chan *model.RepositoryInfo
	scanNow chan struct{}

	mu       sync.Mutex
	synced   map[string]bool
	lastScan time.Time
	paused   bool
	running  bool
	active   int
	ctx      context.Context
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Manager and loads persisted state.
func New(cfg config.Config, syncer Syncer, opts Options) *Manager {
	stateFile := opts.StateFile
	if stateFile == "" {
		if p, err := DefaultStateFile(); err == nil {
			stateFile = p
		}
	}
	retry := opts.RetryDelay
	if retry <= 0 {
		retry = defaultRetryDelay
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	m := &Manager{
		cfg:        cfg,
		syncer:     syncer,
		discovery:  opts.Discovery,
		snap:       opts.Snapshot,
		stateFile:  stateFile,
		hostPaths:  opts.HostPaths,
		retryDelay: retry,
		backoff:    backoff,
		queue:      make(chan *model.RepositoryInfo, queueCapacity),
		scanNow:    make(chan struct{}, 1),
		synced:     make(map[string]bool),
	}

	st := loadState(stateFile)
	for _, p := range st.SyncedRepos {
		m.synced[p] = true
	}
	if st.LastScan != nil {
		m.lastScan = *st.LastScan
	}

	if m.discovery == nil {
		paths := cfg.Sync.ScanPaths
		if len(paths) == 0 {
			paths = ResolveScanPaths(opts.HostPaths)
		}
		if len(paths) > 0 {
			m.scanPaths = paths
			d := discover.New(paths, cfg.Discovery.MaxDepth, cfg.Discovery.MinFiles)
			d.ExcludePatterns = cfg.Sync.ExcludePatterns
			m.discovery = d
		}
	}

	return m
}

// Start launches the scan and sync loops. It is bounded by a startup
// timeout and returns immediately when auto-sync is disabled or no scan
// paths could be resolved.
func (m *Manager) Start() error {
	if !m.cfg.Sync.Enabled {
		log.Println("autosync: disabled by configuration")
		return nil
	}
	if m.discovery == nil {
		log.Println("autosync: no scan paths configured or resolvable")
		return nil
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	log.Println("autosync: starting")

	m.wg.Add(2)
	go m.scanLoop()
	go m.syncLoop()

	if m.cfg.Sync.SyncOnStartup {
		ctx, cancel := context.WithTimeout(m.ctx, startupTimeout)
		defer cancel()
		m.runScan(ctx)
	}
	return nil
}

// Stop cancels the loops, waits for in-flight syncs, and persists state.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	log.Println("autosync: stopping")
	cancel()
	m.wg.Wait()

	if err := m.persistState(); err != nil {
		log.Printf("autosync: save state: %v", err)
	}
}

// persistState snapshots and persists the manager state.
func (m *Manager) persistState() error {
	m.mu.Lock()
	st := &State{SyncedRepos: make([]string, 0, len(m.synced))}
	for p := range m.synced {
		st.SyncedRepos = append(st.SyncedRepos, p)
	}
	sort.Strings(st.SyncedRepos)
	if !m.lastScan.IsZero() {
		t := m.lastScan
		st.LastScan = &t
	}
	m.mu.Unlock()

	return saveState(m.stateFile, st)
}

// =============================================================================
// LOOPS
// =============================================================================

// scanLoop runs discovery every scan interval.
func (m *Manager) scanLoop() {
	defer m.wg.Done()

	interval := time.Duration(m.cfg.Sync.ScanIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runScan(m.ctx)
		case <-m.scanNow:
			m.runScan(m.ctx)
		}
	}
}

// syncLoop drains the queue, admitting syncs by live task count.
func (m *Manager) syncLoop() {
	defer m.wg.Done()

	idle := time.Duration(m.cfg.Sync.SyncIntervalSecs) * time.Second

	for {
		select {
		case <-m.ctx.Done():
			return

		case repo := <-m.queue:
			m.mu.Lock()
			overCapacity := m.paused || m.active >= m.cfg.Sync.MaxConcurrentSyncs
			if !overCapacity {
				m.active++
			}
			m.mu.Unlock()

			if overCapacity {
				// Not a semaphore: put the candidate back and back off
				// so a long run cannot spin the loop.
				m.requeue(repo)
				select {
				case <-m.ctx.Done():
					return
				case <-time.After(m.backoff):
				}
				continue
			}

			m.wg.Add(1)
			go func(repo *model.RepositoryInfo) {
				defer m.wg.Done()
				m.syncOne(m.ctx, repo)
				m.mu.Lock()
				m.active--
				m.mu.Unlock()
			}(repo)

		case <-time.After(idle):
			// Idle tick; nothing queued.
		}
	}
}

// runScan discovers repositories, filters the synced ones, prioritizes,
// and enqueues. Errors are logged, never fatal to the loop.
func (m *Manager) runScan(ctx context.Context) {
	m.mu.Lock()
	m.lastScan = time.Now()
	m.mu.Unlock()

	repos, err := m.discovery.Discover(ctx)
	if err != nil {
		log.Printf("autosync: scan: %v", err)
		return
	}

	fresh := make([]*model.RepositoryInfo, 0, len(repos))
	for _, r := range repos {
		if !m.isSynced(ctx, r) {
			fresh = append(fresh, r)
		}
	}

	m.prioritize(fresh)
	log.Printf("autosync: scan found %d repositories, %d new", len(repos), len(fresh))

	for _, r := range fresh {
		m.requeue(r)
	}
}

// syncOne runs one repository sync, marking success or scheduling a
// retry. The first sync of a repository is always full.
func (m *Manager) syncOne(ctx context.Context, repo *model.RepositoryInfo) {
	result, err := m.syncer.Sync(ctx, repo.Path, repo.Name, false, false)
	if err != nil {
		log.Printf("autosync: sync %s: %v (retrying in %s)", repo.Name, err, m.retryDelay)
		m.retryLater(repo)
		return
	}

	m.mu.Lock()
	m.synced[repo.Path] = true
	m.mu.Unlock()
	log.Printf("autosync: synced %s (%d files, %d chunks)", repo.Name, result.ProcessedFiles, result.NewChunks)
}

// retryLater re-enqueues a failed repository after the retry delay,
// unless the manager stopped in the meantime.
func (m *Manager) retryLater(repo *model.RepositoryInfo) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-m.ctx.Done():
		case <-time.After(m.retryDelay):
			m.requeue(repo)
		}
	}()
}

// requeue enqueues without blocking; a full queue drops the candidate,
// which the next scan rediscovers.
func (m *Manager) requeue(repo *model.RepositoryInfo) {
	select {
	case m.queue <- repo:
	default:
		log.Printf("autosync: queue full, dropping %s", repo.Name)
	}
}

// isSynced checks the in-memory set, falling back to a storage
// existence probe for repositories synced in a previous run.
func (m *Manager) isSynced(ctx context.Context, repo *model.RepositoryInfo) bool {
	m.mu.Lock()
	known := m.synced[repo.Path]
	m.mu.Unlock()
	if known {
		return true
	}

	if m.snap == nil {
		return false
	}
	ok, err := m.snap.HasRepository(ctx, repo.Name)
	if err != nil {
		return false
	}
	if ok {
		m.mu.Lock()
		m.synced[repo.Path] = true
		m.mu.Unlock()
	}
	return ok
}

// =============================================================================
// PRIORITIZATION
// =============================================================================

// prioritize orders candidates by (priority-language rank, size with
// ceiling, days since modified): small, actively edited repositories in
// common languages sync first.
func (m *Manager) prioritize(repos []*model.RepositoryInfo) {
	now := time.Now()
	ceiling := m.cfg.Sync.SizeCeilingBytes

	key := func(r *model.RepositoryInfo) (int, int64, int) {
		langRank := len(m.cfg.Sync.PriorityLanguages)
		for i, lang := range m.cfg.Sync.PriorityLanguages {
			if r.Language == lang {
				langRank = i
				break
			}
		}

		size := r.Size
		if ceiling > 0 && size > ceiling {
			// Oversized repositories sort behind everything else.
			size = 1<<62 - 1
		}

		days := int(now.Sub(r.LastModified).Hours() / 24)
		return langRank, size, days
	}

	sort.SliceStable(repos, func(i, j int) bool {
		li, si, di := key(repos[i])
		lj, sj, dj := key(repos[j])
		if li != lj {
			return li < lj
		}
		if si != sj {
			return si < sj
		}
		return di < dj
	})
}

// =============================================================================
// MANUAL CONTROL
// =============================================================================

// ScanCounts summarizes queue state after a manual scan.
type ScanCounts struct {
	Queued int `json:"queued"`
	Active int `json:"active"`
	Synced int `json:"synced"`
}

// TriggerScan runs discovery immediately and reports queue counts.
func (m *Manager) TriggerScan(ctx context.Context) ScanCounts {
	if m.discovery != nil {
		m.runScan(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return ScanCounts{
		Queued: len(m.queue),
		Active: m.active,
		Synced: len(m.synced),
	}
}

// ConfiguredPaths returns the scan roots the manager resolved at
// construction. Nil when discovery was injected or never resolved.
func (m *Manager) ConfiguredPaths() []string {
	out := make([]string, len(m.scanPaths))
	copy(out, m.scanPaths)
	return out
}

// DetectedPaths re-runs the scan path fallback chain against the
// current environment and returns its result, independent of the
// roots the manager was constructed with.
func (m *Manager) DetectedPaths() []string {
	return ResolveScanPaths(m.hostPaths)
}

// SyncHandle tracks a manual repository sync. The result is owned by
// the sync goroutine until Done is closed; callers read it only after.
type SyncHandle struct {
	Repository string

	done   chan struct{}
	result *model.SyncResult
	err    error
}

// Done is closed when the sync finishes.
func (h *SyncHandle) Done() <-chan struct{} { return h.done }

// Result returns the outcome, blocking until the sync finishes.
func (h *SyncHandle) Result() (*model.SyncResult, error) {
	<-h.done
	return h.result, h.err
}

// SyncRepository starts a manual sync of one repository and returns a
// pollable handle. Manual syncs bypass the queue and do not count
// against the concurrency limit.
func (m *Manager) SyncRepository(ctx context.Context, path, name string, forceFull bool) *SyncHandle {
	h := &SyncHandle{Repository: name, done: make(chan struct{})}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(h.done)
		h.result, h.err = m.syncer.Sync(ctx, path, name, !forceFull, forceFull)
		if h.err == nil {
			m.mu.Lock()
			m.synced[path] = true
			m.mu.Unlock()
		}
	}()
	return h
}

// Pause stops admitting new syncs. The loops keep running.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	log.Println("autosync: paused")
}

// Resume re-enables sync admission.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	log.Println("autosync: resumed")
}

// Status reports the manager's current state.
type Status struct {
	Enabled       bool      `json:"enabled"`
	Running       bool      `json:"running"`
	Paused        bool      `json:"paused"`
	LastScan      time.Time `json:"last_scan"`
	QueuedRepos   int       `json:"queued_repos"`
	ActiveSyncs   int       `json:"active_syncs"`
	SyncedRepos   int       `json:"synced_repos"`
	ScanInterval  int       `json:"scan_interval_secs"`
	SyncInterval  int       `json:"sync_interval_secs"`
	MaxConcurrent int       `json:"max_concurrent_syncs"`
}

// Status returns a snapshot of the manager state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Enabled:       m.cfg.Sync.Enabled,
		Running:       m.running,
		Paused:        m.paused,
		LastScan:      m.lastScan,
		QueuedRepos:   len(m.queue),
		ActiveSyncs:   m.active,
		SyncedRepos:   len(m.synced),
		ScanInterval:  m.cfg.Sync.ScanIntervalSecs,
		SyncInterval:  m.cfg.Sync.SyncIntervalSecs,
		MaxConcurrent: m.cfg.Sync.MaxConcurrentSyncs,
	}
}
