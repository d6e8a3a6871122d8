// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package autosync schedules automatic repository synchronization.
package autosync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codesync/internal/config"
	"github.com/jeranaias/codesync/internal/model"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeSyncer counts concurrent runs and records the peak.
type fakeSyncer struct {
	mu      sync.Mutex
	active  int
	peak    int
	total   int
	dwell   time.Duration
	failFor map[string]int // name -> remaining failures
}

func newFakeSyncer(dwell time.Duration) *fakeSyncer {
	return &fakeSyncer{dwell: dwell, failFor: make(map[string]int)}
}

func (f *fakeSyncer) Sync(ctx context.Context, path, name string, incremental, forceFull bool) (*model.SyncResult, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	fail := f.failFor[name] > 0
	if fail {
		f.failFor[name]--
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(f.dwell):
	}

	f.mu.Lock()
	f.active--
	f.total++
	f.mu.Unlock()

	if fail {
		return nil, errors.New("sync failed")
	}
	return model.NewSyncResult(name, path, model.SyncFull), nil
}

func (f *fakeSyncer) snapshot() (peak, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak, f.total
}

// fakeDiscovery returns a fixed candidate list.
type fakeDiscovery struct {
	mu    sync.Mutex
	repos []*model.RepositoryInfo
	calls int
}

func (f *fakeDiscovery) Discover(ctx context.Context) ([]*model.RepositoryInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.repos, nil
}

func testConfig(maxConcurrent int) config.Config {
	cfg := *config.Default()
	cfg.Sync.Enabled = true
	cfg.Sync.SyncOnStartup = false
	cfg.Sync.ScanIntervalSecs = 3600
	cfg.Sync.SyncIntervalSecs = 1
	cfg.Sync.MaxConcurrentSyncs = maxConcurrent
	return cfg
}

func repoInfo(name string, size int64, lang string, modified time.Time) *model.RepositoryInfo {
	return &model.RepositoryInfo{
		Path:         "/repos/" + name,
		Name:         name,
		Language:     lang,
		Size:         size,
		LastModified: modified,
	}
}

// =============================================================================
// TESTS
// =============================================================================

func TestActiveSyncsNeverExceedLimit(t *testing.T) {
	syncer := newFakeSyncer(150 * time.Millisecond)
	disc := &fakeDiscovery{}
	now := time.Now()
	for _, name := range []string{"r1", "r2", "r3", "r4", "r5"} {
		disc.repos = append(disc.repos, repoInfo(name, 1024, "go", now))
	}

	m := New(testConfig(2), syncer, Options{
		Discovery: disc,
		StateFile: filepath.Join(t.TempDir(), "state.json"),
		Backoff:   20 * time.Millisecond,
	})
	require.NoError(t, m.Start())
	defer m.Stop()

	m.TriggerScan(context.Background())

	// Sample the live count until all five repositories complete.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		peak, total := syncer.snapshot()
		assert.LessOrEqual(t, peak, 2, "active syncs exceeded max_concurrent_syncs")
		if total >= 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	peak, total := syncer.snapshot()
	assert.Equal(t, 5, total, "every queued repository must sync")
	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 5, m.Status().SyncedRepos)
}

func TestFailedSyncIsRetried(t *testing.T) {
	syncer := newFakeSyncer(10 * time.Millisecond)
	syncer.failFor["flaky"] = 1 // fail once, then succeed
	disc := &fakeDiscovery{repos: []*model.RepositoryInfo{
		repoInfo("flaky", 1024, "go", time.Now()),
	}}

	m := New(testConfig(2), syncer, Options{
		Discovery:  disc,
		StateFile:  filepath.Join(t.TempDir(), "state.json"),
		RetryDelay: 50 * time.Millisecond,
		Backoff:    20 * time.Millisecond,
	})
	require.NoError(t, m.Start())
	defer m.Stop()

	m.TriggerScan(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status().SyncedRepos == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, m.Status().SyncedRepos, "repository must sync after retry")

	_, total := syncer.snapshot()
	assert.GreaterOrEqual(t, total, 2, "failed sync must run again")
}

func TestSyncedRepositoriesSkippedOnRescan(t *testing.T) {
	syncer := newFakeSyncer(10 * time.Millisecond)
	disc := &fakeDiscovery{repos: []*model.RepositoryInfo{
		repoInfo("once", 1024, "go", time.Now()),
	}}

	m := New(testConfig(2), syncer, Options{
		Discovery: disc,
		StateFile: filepath.Join(t.TempDir(), "state.json"),
	})
	require.NoError(t, m.Start())
	defer m.Stop()

	m.TriggerScan(context.Background())
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && m.Status().SyncedRepos < 1 {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, m.Status().SyncedRepos)

	counts := m.TriggerScan(context.Background())
	assert.Equal(t, 0, counts.Queued, "already-synced repository must not requeue")

	time.Sleep(100 * time.Millisecond)
	_, total := syncer.snapshot()
	assert.Equal(t, 1, total)
}

func TestPauseBlocksAdmission(t *testing.T) {
	syncer := newFakeSyncer(10 * time.Millisecond)
	disc := &fakeDiscovery{repos: []*model.RepositoryInfo{
		repoInfo("held", 1024, "go", time.Now()),
	}}

	m := New(testConfig(2), syncer, Options{
		Discovery: disc,
		StateFile: filepath.Join(t.TempDir(), "state.json"),
		Backoff:   20 * time.Millisecond,
	})
	require.NoError(t, m.Start())
	defer m.Stop()

	m.Pause()
	m.TriggerScan(context.Background())

	time.Sleep(200 * time.Millisecond)
	_, total := syncer.snapshot()
	assert.Equal(t, 0, total, "paused manager must not start syncs")
	assert.True(t, m.Status().Paused)

	m.Resume()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && m.Status().SyncedRepos < 1 {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, m.Status().SyncedRepos, "resume must drain the queue")
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	syncer := newFakeSyncer(10 * time.Millisecond)
	disc := &fakeDiscovery{repos: []*model.RepositoryInfo{
		repoInfo("durable", 1024, "go", time.Now()),
	}}

	m := New(testConfig(2), syncer, Options{Discovery: disc, StateFile: stateFile})
	require.NoError(t, m.Start())
	m.TriggerScan(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && m.Status().SyncedRepos < 1 {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, m.Status().SyncedRepos)
	m.Stop()

	st := loadState(stateFile)
	assert.Equal(t, []string{"/repos/durable"}, st.SyncedRepos)
	require.NotNil(t, st.LastScan)
	assert.False(t, st.SavedAt.IsZero())

	// A fresh manager seeded from the same file skips the repository.
	m2 := New(testConfig(2), newFakeSyncer(0), Options{Discovery: disc, StateFile: stateFile})
	assert.Equal(t, 1, m2.Status().SyncedRepos)
}

func TestDisabledManagerDoesNothing(t *testing.T) {
	cfg := testConfig(2)
	cfg.Sync.Enabled = false

	m := New(cfg, newFakeSyncer(0), Options{
		Discovery: &fakeDiscovery{},
		StateFile: filepath.Join(t.TempDir(), "state.json"),
	})
	require.NoError(t, m.Start())
	assert.False(t, m.Status().Running)
	m.Stop()
}

func TestPrioritizeOrdersByLanguageSizeRecency(t *testing.T) {
	cfg := testConfig(2)
	cfg.Sync.PriorityLanguages = []string{"python", "javascript", "typescript"}
	cfg.Sync.SizeCeilingBytes = 100 * 1024 * 1024
	m := New(cfg, newFakeSyncer(0), Options{
		Discovery: &fakeDiscovery{},
		StateFile: filepath.Join(t.TempDir(), "state.json"),
	})

	now := time.Now()
	huge := repoInfo("huge-py", 200*1024*1024, "python", now)
	smallPy := repoInfo("small-py", 1024, "python", now)
	oldPy := repoInfo("old-py", 1024, "python", now.Add(-40*24*time.Hour))
	js := repoInfo("js", 512, "javascript", now)
	rust := repoInfo("rust", 256, "rust", now)

	repos := []*model.RepositoryInfo{rust, huge, oldPy, js, smallPy}
	m.prioritize(repos)

	names := make([]string, len(repos))
	for i, r := range repos {
		names[i] = r.Name
	}
	// python before javascript before non-priority; small before old is a
	// tie on size broken by recency; the oversized repo sorts last within
	// its language.
	assert.Equal(t, []string{"small-py", "old-py", "huge-py", "js", "rust"}, names)
}

func TestStartIsIdempotent(t *testing.T) {
	m := New(testConfig(2), newFakeSyncer(0), Options{
		Discovery: &fakeDiscovery{},
		StateFile: filepath.Join(t.TempDir(), "state.json"),
	})
	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	assert.True(t, m.Status().Running)
	m.Stop()
	m.Stop()
	assert.False(t, m.Status().Running)
}

func TestManualSyncHandleResolvesAndMarksSynced(t *testing.T) {
	syncer := newFakeSyncer(10 * time.Millisecond)
	m := New(testConfig(1), syncer, Options{
		Discovery: &fakeDiscovery{},
		StateFile: filepath.Join(t.TempDir(), "state.json"),
	})

	h := m.SyncRepository(context.Background(), "/repos/api", "api", true)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("manual sync did not finish")
	}

	result, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, "api", result.RepositoryName)
	assert.Equal(t, model.SyncFull, result.SyncType)

	m.mu.Lock()
	synced := m.synced["/repos/api"]
	m.mu.Unlock()
	assert.True(t, synced)
}

func TestManualSyncHandleReportsError(t *testing.T) {
	syncer := newFakeSyncer(0)
	syncer.failFor["broken"] = 1
	m := New(testConfig(1), syncer, Options{
		Discovery: &fakeDiscovery{},
		StateFile: filepath.Join(t.TempDir(), "state.json"),
	})

	h := m.SyncRepository(context.Background(), "/repos/broken", "broken", false)
	result, err := h.Result()
	require.Error(t, err)
	assert.Nil(t, result)

	m.mu.Lock()
	synced := m.synced["/repos/broken"]
	m.mu.Unlock()
	assert.False(t, synced)
}

func TestExcludePatternsReachDiscovery(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"keep/svc", "skipme/svc"} {
		dir := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module svc\n"), 0o644))
		for _, f := range []string{"a.go", "b.go", "c.go"} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("package svc\n"), 0o644))
		}
	}

	cfg := testConfig(1)
	cfg.Sync.ScanPaths = []string{root}
	cfg.Sync.ExcludePatterns = []string{"skipme"}

	m := New(cfg, newFakeSyncer(time.Second), Options{
		StateFile: filepath.Join(t.TempDir(), "state.json"),
	})
	counts := m.TriggerScan(context.Background())
	assert.Equal(t, 1, counts.Queued, "the excluded subtree must not be discovered")

	repo := <-m.queue
	assert.Equal(t, filepath.Join(root, "keep", "svc"), repo.Path)
}

func TestDetectedPathsRunsFallbackChain(t *testing.T) {
	host := []string{"/repos/a", "/repos/b"}
	m := New(testConfig(1), newFakeSyncer(0), Options{
		HostPaths: host,
		Discovery: &fakeDiscovery{},
		StateFile: filepath.Join(t.TempDir(), "state.json"),
	})

	assert.Equal(t, host, m.DetectedPaths())
	assert.Empty(t, m.ConfiguredPaths(), "injected discovery leaves configured roots empty")
}
