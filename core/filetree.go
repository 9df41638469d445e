package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/stomrex77/claude-web/schema"
)

// FileTree returns a bounded directory listing for the file browser.
// Paths must be absolute; an empty path walks the default directory.
func (s *service) FileTree(ctx context.Context, req schema.FileTreeRequest) (schema.FileTreeResponse, error) {
	if ctx == nil {
		return schema.FileTreeResponse{}, errors.New("missing context")
	}
	path := req.Path
	if path == "" {
		path = s.cfg.DefaultDirectory
	}
	if !filepath.IsAbs(path) {
		return schema.FileTreeResponse{}, schema.ErrInvalidPath
	}
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return schema.FileTreeResponse{}, schema.ErrPathNotFound
	}
	if !info.IsDir() {
		return schema.FileTreeResponse{}, schema.ErrInvalidPath
	}
	depth := req.Depth
	if depth <= 0 || depth > s.cfg.TreeMaxDepth {
		depth = s.cfg.TreeMaxDepth
	}
	tree := s.walker.Walk(path, depth)
	s.logger.Debug("service file tree walked", "path", path, "depth", depth, "entries", len(tree))
	return schema.FileTreeResponse{Tree: tree}, nil
}
