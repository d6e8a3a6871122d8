// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scanner walks repository trees and hashes eligible source files.
package scanner

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/codesync/internal/model"
)

// ErrInvalidRoot indicates the scan root does not exist or is not a directory.
var ErrInvalidRoot = errors.New("invalid scan root")

// maxHashWorkers caps the hashing pool regardless of core count.
const maxHashWorkers = 8

// =============================================================================
// SCANNER
// =============================================================================

// Scanner enumerates and hashes the eligible files of a repository.
type Scanner struct {
	// MaxFileSize is the per-file size ceiling in bytes.
	MaxFileSize int64

	// ExcludeDirs are directory base names that are never descended.
	ExcludeDirs []string

	// Workers is the hashing pool size. 0 means NumCPU capped at 8.
	Workers int
}

// DefaultExcludeDirs are the directories skipped by default: VCS metadata,
// dependency trees, build output, and virtualenv conventions.
var DefaultExcludeDirs = []string{
	".git", ".svn", ".hg",
	"node_modules", "__pycache__", ".venv", "venv", "env",
	"vendor", "target", "dist", "build",
	".idea", ".vscode", ".pytest_cache", ".tox",
}

// New creates a Scanner with the given size ceiling and default excludes.
func New(maxFileSize int64) *Scanner {
	return &Scanner{
		MaxFileSize: maxFileSize,
		ExcludeDirs: DefaultExcludeDirs,
	}
}

// Scan walks root and returns relative path -> metadata for every eligible
// file. Per-file read errors are logged and skipped; only an unusable root
// or context cancellation fails the scan.
func (s *Scanner) Scan(ctx context.Context, root string) (map[string]*model.FileMetadata, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", ErrInvalidRoot, absRoot)
	}

	paths, err := s.collect(ctx, absRoot)
	if err != nil {
		return nil, err
	}

	return s.hashAll(ctx, absRoot, paths)
}

// collect walks the tree and returns the relative paths of eligible files.
func (s *Scanner) collect(ctx context.Context, root string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Permission and transient I/O errors skip the entry, never
			// abort the scan.
			log.Printf("scanner: skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			if path != root && s.excluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if !model.IsCodeFile(path) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			log.Printf("scanner: skipping %s: %v", path, err)
			return nil
		}
		if !fi.Mode().IsRegular() || fi.Size() > s.MaxFileSize {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// hashAll hashes the collected files on a bounded worker pool.
func (s *Scanner) hashAll(ctx context.Context, root string, paths []string) (map[string]*model.FileMetadata, error) {
	files := make(map[string]*model.FileMetadata, len(paths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())

	for _, rel := range paths {
		rel := rel
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			meta, err := s.HashFile(root, rel)
			if err != nil {
				// The file may have changed or vanished between the walk
				// and the hash. Skip it.
				log.Printf("scanner: could not hash %s: %v", rel, err)
				return nil
			}

			mu.Lock()
			files[rel] = meta
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// HashFile stats and hashes one file identified by its repository-relative
// path, returning its metadata. The watcher uses this for single-file
// updates outside a full scan.
func (s *Scanner) HashFile(root, rel string) (*model.FileMetadata, error) {
	full := filepath.Join(root, filepath.FromSlash(rel))

	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > s.MaxFileSize {
		return nil, fmt.Errorf("file grew past size ceiling (%d bytes)", fi.Size())
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}

	return &model.FileMetadata{
		Path:        rel,
		Size:        fi.Size(),
		MTime:       fi.ModTime(),
		ContentHash: fmt.Sprintf("%x", h.Sum(nil)),
	}, nil
}

// Excluded reports whether a directory base name is in the default
// exclude list. The watcher and discovery reuse this so the three
// components agree on which subtrees are off limits.
func Excluded(name string) bool {
	for _, d := range DefaultExcludeDirs {
		if name == d {
			return true
		}
	}
	return false
}

// excluded reports whether a directory base name is in the exclude list.
func (s *Scanner) excluded(name string) bool {
	for _, d := range s.ExcludeDirs {
		if name == d {
			return true
		}
	}
	return false
}

// workers resolves the effective pool size.
func (s *Scanner) workers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	n := runtime.NumCPU()
	if n > maxHashWorkers {
		n = maxHashWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}
