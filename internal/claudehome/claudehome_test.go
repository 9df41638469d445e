package claudehome

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirPrefersEnvOverride(t *testing.T) {
	t.Setenv("CLAUDE_CONFIG_DIR", "/custom/claude")
	dir, err := Dir()
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	if dir != "/custom/claude" {
		t.Fatalf("dir = %q, want env override", dir)
	}
}

func TestDirDefaultsToDotClaude(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CLAUDE_CONFIG_DIR", "")
	t.Setenv("HOME", home)
	dir, err := Dir()
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	if want := filepath.Join(home, ".claude"); dir != want {
		t.Fatalf("dir = %q, want %q", dir, want)
	}
}

func TestDirFallsBackToXDGLayout(t *testing.T) {
	home := t.TempDir()
	alt := filepath.Join(home, ".config", "claude")
	if err := os.MkdirAll(alt, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Setenv("CLAUDE_CONFIG_DIR", "")
	t.Setenv("HOME", home)
	dir, err := Dir()
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	if dir != alt {
		t.Fatalf("dir = %q, want %q", dir, alt)
	}
}

func TestProjectsDir(t *testing.T) {
	t.Setenv("CLAUDE_CONFIG_DIR", "/custom/claude")
	dir, err := ProjectsDir()
	if err != nil {
		t.Fatalf("projects dir: %v", err)
	}
	if want := filepath.Join("/custom/claude", "projects"); dir != want {
		t.Fatalf("projects dir = %q, want %q", dir, want)
	}
}

func TestStatsCacheCandidates(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CLAUDE_CONFIG_DIR", "")
	t.Setenv("HOME", home)
	candidates, err := StatsCacheCandidates()
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d: %v", len(candidates), candidates)
	}
	if want := filepath.Join(home, ".claude", "stats-cache.json"); candidates[0] != want {
		t.Fatalf("candidates[0] = %q, want %q", candidates[0], want)
	}
	seen := make(map[string]struct{})
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			t.Fatalf("duplicate candidate %q", c)
		}
		seen[c] = struct{}{}
	}
}
