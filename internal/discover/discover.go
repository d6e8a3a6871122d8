// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package discover finds code repositories under configured scan roots.
package discover

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/codesync/internal/model"
	"github.com/jeranaias/codesync/internal/scanner"
)

// =============================================================================
// INDICATORS
// =============================================================================

// Indicator classes, checked in priority order: a VCS marker is the
// strongest signal, a README the weakest.
var (
	vcsIndicators = []string{".git", ".svn", ".hg"}

	buildIndicators = []string{
		"package.json", "pom.xml", "build.gradle", "Cargo.toml",
		"go.mod", "requirements.txt", "pyproject.toml", "Gemfile",
		"composer.json",
	}

	projectIndicators = []string{
		".project", ".vscode", ".idea", "Makefile", "CMakeLists.txt",
	}

	docIndicators = []string{"README.md", "README.rst", "README.txt"}
)

// languageOrder fixes the candidate order so language tie-breaks are
// deterministic across runs.
var languageOrder = []string{
	"python", "javascript", "typescript", "java", "go",
	"rust", "ruby", "php", "csharp", "cpp",
}

// languageExtensions maps source extensions to their language candidate.
var languageExtensions = map[string]string{
	".py": "python",
	".js": "javascript", ".jsx": "javascript",
	".ts": "typescript", ".tsx": "typescript",
	".java": "java",
	".go":   "go",
	".rs":   "rust",
	".rb":   "ruby",
	".php":  "php",
	".cs":   "csharp",
	".cpp":  "cpp", ".cc": "cpp", ".h": "cpp", ".hpp": "cpp",
}

// maxSiblingScans bounds the concurrent subtree scans per directory.
const maxSiblingScans = 16

// =============================================================================
// DISCOVERY
// =============================================================================

// Discovery walks scan roots looking for repository directories.
type Discovery struct {
	// ScanPaths are the roots to search.
	ScanPaths []string

	// ExcludePatterns are directory base names never descended.
	// Empty means the scanner's default exclude list.
	ExcludePatterns []string

	// MaxDepth bounds how deep below each root the search descends.
	MaxDepth int

	// MinFiles is the minimum source file count for a directory to
	// qualify as a repository.
	MinFiles int
}

// New creates a Discovery with the given roots and limits.
func New(scanPaths []string, maxDepth, minFiles int) *Discovery {
	return &Discovery{
		ScanPaths: scanPaths,
		MaxDepth:  maxDepth,
		MinFiles:  minFiles,
	}
}

// Discover searches every scan root and returns the qualified
// repositories, largest first. Roots that do not exist are skipped.
func (d *Discovery) Discover(ctx context.Context) ([]*model.RepositoryInfo, error) {
	found := make(map[string]*model.RepositoryInfo)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, root := range d.ScanPaths {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			continue
		}
		g.Go(func() error {
			return d.scanDir(gctx, abs, 0, found, &mu)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	repos := make([]*model.RepositoryInfo, 0, len(found))
	for _, r := range found {
		repos = append(repos, r)
	}
	sort.Slice(repos, func(i, j int) bool {
		if repos[i].Size != repos[j].Size {
			return repos[i].Size > repos[j].Size
		}
		return repos[i].Path < repos[j].Path
	})

	log.Printf("discover: found %d repositories under %d roots", len(repos), len(d.ScanPaths))
	return repos, nil
}

// scanDir checks one directory and recurses into its children. A
// qualified repository stops the descent for its subtree.
func (d *Discovery) scanDir(ctx context.Context, path string, depth int, found map[string]*model.RepositoryInfo, mu *sync.Mutex) error {
	if depth > d.MaxDepth {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if info := d.detect(path); info != nil {
		mu.Lock()
		found[path] = info
		mu.Unlock()
		return nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		// Permission errors are expected under broad roots.
		log.Printf("discover: skipping %s: %v", path, err)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxSiblingScans)
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || d.excluded(e.Name()) {
			continue
		}
		sub := filepath.Join(path, e.Name())
		g.Go(func() error {
			return d.scanDir(gctx, sub, depth+1, found, mu)
		})
	}
	return g.Wait()
}

// =============================================================================
// DETECTION
// =============================================================================

// detect reports whether path is a repository, collecting indicators in
// priority order and scoring languages by matching file count.
func (d *Discovery) detect(path string) *model.RepositoryInfo {
	var indicators []string
	vcs := "unknown"

	for _, name := range vcsIndicators {
		if _, err := os.Stat(filepath.Join(path, name)); err == nil {
			indicators = append(indicators, name)
			vcs = strings.TrimPrefix(name, ".")
			break
		}
	}
	for _, group := range [][]string{buildIndicators, projectIndicators, docIndicators} {
		for _, name := range group {
			if _, err := os.Stat(filepath.Join(path, name)); err == nil {
				indicators = append(indicators, name)
			}
		}
	}
	if len(indicators) == 0 {
		return nil
	}

	scores, total, size, lastMod := d.scoreLanguages(path)
	if total < d.MinFiles {
		return nil
	}

	return &model.RepositoryInfo{
		Path:         path,
		Name:         repoName(path, vcs),
		VCS:          vcs,
		Language:     primaryLanguage(scores),
		Size:         size,
		LastModified: lastMod,
		Indicators:   indicators,
	}
}

// scoreLanguages counts source files per language candidate beneath
// path, skipping excluded directories. It also reports the total file
// count, cumulative size, and most recent modification time.
func (d *Discovery) scoreLanguages(path string) (scores map[string]int, total int, size int64, lastMod time.Time) {
	scores = make(map[string]int)

	filepath.WalkDir(path, func(p string, entry os.DirEntry, err error) error {
		if err != nil {
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if p != path && (strings.HasPrefix(entry.Name(), ".") || d.excluded(entry.Name())) {
				return filepath.SkipDir
			}
			return nil
		}

		lang, ok := languageExtensions[strings.ToLower(filepath.Ext(p))]
		if !ok {
			return nil
		}
		scores[lang]++
		total++

		if fi, err := entry.Info(); err == nil {
			size += fi.Size()
			if fi.ModTime().After(lastMod) {
				lastMod = fi.ModTime()
			}
		}
		return nil
	})
	return scores, total, size, lastMod
}

// primaryLanguage picks the highest-scoring language. Ties resolve to
// the earlier entry in the fixed candidate order.
func primaryLanguage(scores map[string]int) string {
	best, bestScore := "unknown", 0
	for _, lang := range languageOrder {
		if scores[lang] > bestScore {
			best, bestScore = lang, scores[lang]
		}
	}
	return best
}

// excluded reports whether a directory base name must not be descended.
func (d *Discovery) excluded(name string) bool {
	if len(d.ExcludePatterns) == 0 {
		return scanner.Excluded(name)
	}
	for _, p := range d.ExcludePatterns {
		if name == p {
			return true
		}
	}
	return false
}

// =============================================================================
// NAMING
// =============================================================================

// repoName derives a repository name from the git remote URL when one
// is configured, else from the directory base name.
func repoName(path, vcs string) string {
	if vcs == "git" {
		if name := gitRemoteName(filepath.Join(path, ".git", "config")); name != "" {
			return name
		}
	}
	return filepath.Base(path)
}

// gitRemoteName extracts the repository name from the first remote URL
// in a git config file.
func gitRemoteName(configPath string) string {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "url = ") {
			continue
		}
		url := strings.TrimSpace(strings.TrimPrefix(line, "url = "))
		// Both https://host/owner/name.git and git@host:owner/name.git
		// end in the repository name.
		if i := strings.LastIndexAny(url, "/:"); i >= 0 {
			url = url[i+1:]
		}
		url = strings.TrimSuffix(url, ".git")
		if url != "" {
			return url
		}
	}
	return ""
}
