// Package claudehome resolves paths inside the claude CLI's data directory.
package claudehome

import (
	"os"
	"path/filepath"
)

// Dir returns the claude data directory. CLAUDE_CONFIG_DIR wins when set;
// otherwise ~/.claude, or ~/.config/claude when only that one exists.
func Dir() (string, error) {
	if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	primary := filepath.Join(home, ".claude")
	if _, err := os.Stat(primary); err == nil {
		return primary, nil
	}
	alt := filepath.Join(home, ".config", "claude")
	if _, err := os.Stat(alt); err == nil {
		return alt, nil
	}
	return primary, nil
}

// ProjectsDir returns the transcript root, one subdirectory per project.
func ProjectsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "projects"), nil
}

// StatsCacheCandidates returns possible stats cache locations in preference
// order. The CLI moves this file around between releases.
func StatsCacheCandidates() ([]string, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	candidates := []string{
		filepath.Join(dir, "stats-cache.json"),
		filepath.Join(dir, ".claude-backup", "stats-cache.json"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".claude-backup", "stats-cache.json"))
	}
	return dedupe(candidates), nil
}

func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
