// codesync - keeps a semantic code index synchronized with on-disk repositories.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/jeranaias/codesync/internal/autosync"
	"github.com/jeranaias/codesync/internal/config"
	"github.com/jeranaias/codesync/internal/lock"
	"github.com/jeranaias/codesync/internal/model"
	"github.com/jeranaias/codesync/internal/reposync"
	"github.com/jeranaias/codesync/internal/scanner"
	"github.com/jeranaias/codesync/internal/snapshot"
	"github.com/jeranaias/codesync/internal/watch"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "config file (default: ~/.codesync/config.toml)")
		oncePath    = flag.String("once", "", "sync one repository path and exit")
		onceName    = flag.String("name", "", "repository name for -once (default: base name)")
		forceFull   = flag.Bool("full", false, "force a full sync for -once")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("codesync version %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("codesync: load config: %v", err)
	}

	if *oncePath != "" {
		if err := runOnce(cfg, *oncePath, *onceName, *forceFull); err != nil {
			log.Fatalf("codesync: %v", err)
		}
		return
	}

	if err := runDaemon(cfg); err != nil {
		log.Fatalf("codesync: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// =============================================================================
// DAEMON
// =============================================================================

// runDaemon wires the pipeline and runs until SIGINT or SIGTERM.
func runDaemon(cfg *config.Config) error {
	plock, err := lock.NewProcessLock("codesync")
	if err != nil {
		return err
	}
	ok, err := plock.Acquire()
	if err != nil {
		return err
	}
	if !ok {
		_, pid := plock.IsLocked()
		return fmt.Errorf("another codesync instance is running (pid %d)", pid)
	}
	defer plock.Release()

	deps, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	if err := deps.manager.Start(); err != nil {
		return err
	}

	log.Printf("codesync %s running (pid %d)", Version, os.Getpid())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("codesync: shutting down")
	deps.manager.Stop()
	return nil
}

// runOnce performs a single repository sync and prints the result.
func runOnce(cfg *config.Config, path, name string, forceFull bool) error {
	if name == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		name = filepath.Base(abs)
	}

	deps, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	result, err := deps.syncer.Sync(context.Background(), path, name, !forceFull, forceFull)
	if err != nil {
		return err
	}

	fmt.Println(result.Summary())
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "  error: %s\n", e)
	}
	return nil
}

// =============================================================================
// WIRING
// =============================================================================

type pipeline struct {
	snap    *snapshot.Store
	watcher *watch.Watcher
	syncer  *reposync.Syncer
	manager *autosync.Manager
}

// buildPipeline assembles scanner, watcher, syncer, and manager from
// configuration. The chunking and storage collaborators here are the
// built-in development backends; hosts embed the packages directly and
// supply their own.
func buildPipeline(cfg *config.Config) (*pipeline, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snap, err := snapshot.Open(filepath.Join(dir, "snapshots.db"))
	if err != nil {
		return nil, err
	}

	slock, err := lock.NewStorageLock(dir, time.Duration(cfg.Lock.TimeoutSecs)*time.Second)
	if err != nil {
		snap.Close()
		return nil, err
	}

	sc := scanner.New(cfg.Scanner.MaxFileSizeBytes)
	sc.Workers = cfg.Scanner.Workers

	var syncer *reposync.Syncer
	watcher := watch.New(
		time.Duration(cfg.Watch.DebounceMillis)*time.Millisecond,
		func(ev model.FileChangeEvent, repository string) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := syncer.HandleChange(ctx, ev, repository); err != nil {
				log.Printf("codesync: live update %s: %v", ev.Path, err)
			}
		},
	)

	syncer = reposync.New(sc, fileChunker{}, newDedupeStore(), snap, reposync.Options{
		Watcher:     watcher,
		StorageLock: slock,
	})

	manager := autosync.New(*cfg, syncer, autosync.Options{Snapshot: snap})

	return &pipeline{snap: snap, watcher: watcher, syncer: syncer, manager: manager}, nil
}

func (p *pipeline) close() {
	p.watcher.Stop()
	if err := p.snap.Close(); err != nil {
		log.Printf("codesync: close snapshot store: %v", err)
	}
}

// =============================================================================
// BUILT-IN DEVELOPMENT COLLABORATORS
// =============================================================================

// fileChunker emits one chunk per file. Real deployments plug in a
// language-aware chunker through the reposync.Chunker interface.
type fileChunker struct{}

func (fileChunker) Chunk(content, path, repository string) ([]model.Chunk, error) {
	if content == "" {
		return nil, nil
	}
	sum := sha256.Sum256([]byte(content))
	lines := 1
	for _, b := range content {
		if b == '\n' {
			lines++
		}
	}
	return []model.Chunk{{
		ID:         fmt.Sprintf("%s:1-%d:%x", path, lines, sum[:4]),
		FilePath:   path,
		Repository: repository,
		Text:       content,
		StartLine:  1,
		EndLine:    lines,
		Type:       "file",
	}}, nil
}

// dedupeStore is an in-memory chunk store that rejects repeated content
// the way production backends do. It exists so the daemon is exercisable
// without an external vector store.
type dedupeStore struct {
	mu     sync.Mutex
	chunks map[string]model.Chunk // content hash -> chunk
	byFile map[string][]string    // repo/path -> content hashes
}

func newDedupeStore() *dedupeStore {
	return &dedupeStore{
		chunks: make(map[string]model.Chunk),
		byFile: make(map[string][]string),
	}
}

func (s *dedupeStore) Store(ctx context.Context, c model.Chunk) (bool, string, error) {
	sum := fmt.Sprintf("%x", sha256.Sum256([]byte(c.Text)))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[sum]; ok {
		return false, "Duplicate content detected", nil
	}
	s.chunks[sum] = c
	key := c.Repository + "/" + c.FilePath
	s.byFile[key] = append(s.byFile[key], sum)
	return true, "", nil
}

func (s *dedupeStore) Query(ctx context.Context, text string, limit int) ([]model.QueryResult, error) {
	// The development backend has no semantic search.
	return nil, nil
}

func (s *dedupeStore) DeleteByFile(ctx context.Context, repository, path string) (int, error) {
	key := repository + "/" + path

	s.mu.Lock()
	defer s.mu.Unlock()
	hashes := s.byFile[key]
	for _, h := range hashes {
		delete(s.chunks, h)
	}
	delete(s.byFile, key)
	return len(hashes), nil
}
