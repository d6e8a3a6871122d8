// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package autosync schedules automatic repository synchronization.
package autosync

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// SCAN PATH RESOLUTION
// =============================================================================

// projectMarkers identify a directory as a project root during path
// resolution.
var projectMarkers = []string{
	".git", "go.mod", "package.json", "requirements.txt", "pyproject.toml",
}

// pathsFile is the local config file consulted by the fallback chain.
type pathsFile struct {
	Paths []string `json:"paths"`
}

// ResolveScanPaths resolves the repository scan roots when none are
// configured explicitly. The fallback chain is ordered and best-effort;
// the first source that yields any path wins:
//
//  1. paths injected by the host
//  2. the CODESYNC_SCAN_PATHS environment variable
//  3. the current working directory, when it looks like a project
//  4. a .codesync/paths.json next to the working directory or home
//  5. an upward walk from the working directory collecting the first
//     project root and its project siblings
func ResolveScanPaths(hostPaths []string) []string {
	cwd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	return resolveScanPaths(hostPaths, cwd, home, os.Getenv)
}

// resolveScanPaths is the testable core of ResolveScanPaths.
func resolveScanPaths(hostPaths []string, cwd, home string, getenv func(string) string) []string {
	if len(hostPaths) > 0 {
		return hostPaths
	}

	if v := getenv("CODESYNC_SCAN_PATHS"); v != "" {
		var paths []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		if len(paths) > 0 {
			return paths
		}
	}

	if cwd != "" && looksLikeProject(cwd) {
		return []string{cwd}
	}

	for _, base := range []string{cwd, home} {
		if base == "" {
			continue
		}
		if paths := readPathsFile(filepath.Join(base, ".codesync", "paths.json")); len(paths) > 0 {
			return paths
		}
	}

	if cwd != "" {
		if paths := walkUpForProjects(cwd); len(paths) > 0 {
			return paths
		}
	}

	return nil
}

// looksLikeProject reports whether dir carries a project marker.
func looksLikeProject(dir string) bool {
	for _, marker := range projectMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// readPathsFile loads a paths.json and keeps only existing directories.
func readPathsFile(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var pf pathsFile
	if err := json.Unmarshal(data, &pf); err != nil {
		log.Printf("autosync: malformed %s: %v", path, err)
		return nil
	}
	var paths []string
	for _, p := range pf.Paths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			paths = append(paths, p)
		}
	}
	return paths
}

// walkUpForProjects ascends from start until it finds a project root,
// then collects that root together with its project siblings.
func walkUpForProjects(start string) []string {
	current := start
	for {
		if looksLikeProject(current) {
			roots := []string{current}
			parent := filepath.Dir(current)
			entries, err := os.ReadDir(parent)
			if err != nil {
				return roots
			}
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				sibling := filepath.Join(parent, e.Name())
				if sibling != current && looksLikeProject(sibling) {
					roots = append(roots, sibling)
				}
			}
			return roots
		}

		parent := filepath.Dir(current)
		if parent == current {
			return nil
		}
		current = parent
	}
}
