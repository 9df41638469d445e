// Package dirtree walks directories for the file browser. Depth is
// bounded, dependency and VCS folders are skipped, and permission
// problems degrade to empty subtrees instead of failing the walk.
package dirtree

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

// DefaultMaxDepth bounds walks when the caller does not pick a depth.
const DefaultMaxDepth = 3

var skippedDirs = map[string]struct{}{
	"node_modules":              {},
	".git":                      {},
	".svn":                      {},
	".hg":                       {},
	"dist":                      {},
	"build":                     {},
	"__pycache__":               {},
	".next":                     {},
	".cache":                    {},
	"vendor":                    {},
	"System Volume Information": {},
	"$RECYCLE.BIN":              {},
}

// dotfileAllow lists hidden names still worth showing.
var dotfileAllow = map[string]struct{}{
	".env.example": {},
}

// Walker builds file trees.
type Walker struct {
	log pslog.Logger
}

// NewWalker constructs a Walker.
func NewWalker(logger pslog.Logger) *Walker {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Walker{log: logger}
}

// Walk returns the entries under root down to maxDepth levels. The root
// itself is not part of the result. An unreadable root yields an empty
// tree: silently for permission errors, logged otherwise.
func (w *Walker) Walk(root string, maxDepth int) []schema.FileNode {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, fs.ErrPermission) {
			w.log.Warn("file tree read failed", "path", root, "err", err)
		}
		return []schema.FileNode{}
	}
	return w.nodes(root, entries, maxDepth)
}

func (w *Walker) nodes(dir string, entries []fs.DirEntry, depth int) []schema.FileNode {
	nodes := make([]schema.FileNode, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			if _, ok := dotfileAllow[name]; !ok {
				continue
			}
		}
		if entry.IsDir() {
			if _, ok := skippedDirs[name]; ok {
				continue
			}
		}
		node := schema.FileNode{
			Name:  name,
			Path:  filepath.Join(dir, name),
			IsDir: entry.IsDir(),
		}
		if entry.IsDir() && depth > 1 {
			node.Children = w.subtree(node.Path, depth-1)
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].IsDir != nodes[j].IsDir {
			return nodes[i].IsDir
		}
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
	return nodes
}

// subtree reads one level down. Unreadable subdirectories stay in the
// tree with no children.
func (w *Walker) subtree(dir string, depth int) []schema.FileNode {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrPermission) {
			w.log.Debug("file tree subdir skipped", "path", dir, "err", err)
		}
		return nil
	}
	return w.nodes(dir, entries, depth)
}
