// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package scanner

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanFindsCodeFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")
	writeFile(t, dir, "pkg/util.py", "def f(): pass\n")
	writeFile(t, dir, "README.md", "# readme\n")

	s := New(10 * 1024 * 1024)
	files, err := s.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d: %v", len(files), files)
	}
	if _, ok := files["main.go"]; !ok {
		t.Error("main.go missing from scan")
	}
	if _, ok := files["pkg/util.py"]; !ok {
		t.Error("pkg/util.py missing from scan")
	}
}

func TestScanHashMatchesContent(t *testing.T) {
	dir := t.TempDir()
	content := "package main\n\nfunc main() {}\n"
	writeFile(t, dir, "main.go", content)

	s := New(10 * 1024 * 1024)
	files, err := s.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	want := fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
	meta := files["main.go"]
	if meta == nil {
		t.Fatal("main.go missing")
	}
	if meta.ContentHash != want {
		t.Errorf("hash mismatch: got %s, want %s", meta.ContentHash, want)
	}
	if meta.Size != int64(len(content)) {
		t.Errorf("size mismatch: got %d, want %d", meta.Size, len(content))
	}
}

func TestScanSkipsExcludedDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.js", "x")
	writeFile(t, dir, "node_modules/lib/dep.js", "x")
	writeFile(t, dir, ".git/hooks/hook.py", "x")
	writeFile(t, dir, "venv/lib/site.py", "x")

	s := New(10 * 1024 * 1024)
	files, err := s.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(files) != 1 {
		t.Fatalf("expected only app.js, got %v", files)
	}
}

func TestScanSkipsOversizedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "small.go", "package small\n")
	writeFile(t, dir, "big.go", "package big\n// padding padding padding\n")

	s := New(16) // 16 byte ceiling: only small.go fits
	files, err := s.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if _, ok := files["big.go"]; ok {
		t.Error("oversized file should be skipped")
	}
	if _, ok := files["small.go"]; !ok {
		t.Error("small file should be scanned")
	}
}

func TestScanInvalidRoot(t *testing.T) {
	s := New(1024)

	if _, err := s.Scan(context.Background(), "/does/not/exist"); err == nil {
		t.Error("expected error for missing root")
	}

	dir := t.TempDir()
	file := writeFile(t, dir, "f.go", "x")
	if _, err := s.Scan(context.Background(), file); err == nil {
		t.Error("expected error for non-directory root")
	}
}

func TestScanCancelled(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, dir, fmt.Sprintf("f%02d.go", i), "package f\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(10 * 1024 * 1024)
	if _, err := s.Scan(ctx, dir); err == nil {
		t.Error("expected error from cancelled context")
	}
}
