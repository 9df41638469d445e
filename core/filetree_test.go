package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stomrex77/claude-web/internal/sessionstore"
	"github.com/stomrex77/claude-web/schema"
)

func newTreeService(t *testing.T, defaultDir string, maxDepth int) Service {
	t.Helper()
	store, err := sessionstore.New(filepath.Join(t.TempDir(), "state.json"), 0, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	svc, err := NewService(schema.ServiceConfig{
		StateDir:         t.TempDir(),
		DefaultDirectory: defaultDir,
		TreeMaxDepth:     maxDepth,
	}, ServiceDeps{Store: store})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestFileTreeWalksDefaultDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "internal"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	svc := newTreeService(t, dir, 0)

	resp, err := svc.FileTree(context.Background(), schema.FileTreeRequest{})
	if err != nil {
		t.Fatalf("file tree: %v", err)
	}
	if len(resp.Tree) != 2 {
		t.Fatalf("entries = %d, want 2", len(resp.Tree))
	}
	// Directories sort first.
	if !resp.Tree[0].IsDir || resp.Tree[0].Name != "internal" {
		t.Fatalf("first entry = %+v", resp.Tree[0])
	}
	if resp.Tree[1].Name != "main.go" {
		t.Fatalf("second entry = %+v", resp.Tree[1])
	}
}

func TestFileTreeRejectsRelativePath(t *testing.T) {
	svc := newTreeService(t, t.TempDir(), 0)
	_, err := svc.FileTree(context.Background(), schema.FileTreeRequest{Path: "relative/path"})
	if !errors.Is(err, schema.ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestFileTreeMissingPath(t *testing.T) {
	svc := newTreeService(t, t.TempDir(), 0)
	_, err := svc.FileTree(context.Background(), schema.FileTreeRequest{Path: filepath.Join(t.TempDir(), "nope")})
	if !errors.Is(err, schema.ErrPathNotFound) {
		t.Fatalf("err = %v, want ErrPathNotFound", err)
	}
}

func TestFileTreeRejectsRegularFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	svc := newTreeService(t, dir, 0)
	_, err := svc.FileTree(context.Background(), schema.FileTreeRequest{Path: file})
	if !errors.Is(err, schema.ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestFileTreeClampsDepth(t *testing.T) {
	dir := t.TempDir()
	deep := filepath.Join(dir, "a", "b", "c", "d")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	svc := newTreeService(t, dir, 2)

	resp, err := svc.FileTree(context.Background(), schema.FileTreeRequest{Path: dir, Depth: 99})
	if err != nil {
		t.Fatalf("file tree: %v", err)
	}
	if len(resp.Tree) != 1 || resp.Tree[0].Name != "a" {
		t.Fatalf("tree = %+v", resp.Tree)
	}
	second := resp.Tree[0].Children
	if len(second) != 1 || second[0].Name != "b" {
		t.Fatalf("level two = %+v", second)
	}
	if second[0].Children != nil {
		t.Fatalf("depth 2 walk descended further: %+v", second[0].Children)
	}
}

func TestFileTreeDefaultDepth(t *testing.T) {
	dir := t.TempDir()
	deep := filepath.Join(dir, "a", "b", "c", "d", "e")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	svc := newTreeService(t, dir, 0)

	resp, err := svc.FileTree(context.Background(), schema.FileTreeRequest{Path: dir})
	if err != nil {
		t.Fatalf("file tree: %v", err)
	}
	level := resp.Tree
	depth := 0
	for len(level) > 0 {
		depth++
		level = level[0].Children
	}
	if depth != schema.DefaultTreeMaxDepth {
		t.Fatalf("walk depth = %d, want %d", depth, schema.DefaultTreeMaxDepth)
	}
}
