package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConfigVersion != CurrentConfigVersion {
		t.Errorf("config_version = %d", cfg.ConfigVersion)
	}
	if cfg.Agent.Engine != "cli" || cfg.Agent.Binary != "claude" {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	if cfg.HTTP.Addr != ":3001" {
		t.Errorf("http.addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Usage.TTLSeconds != 30 || !cfg.Usage.Enabled {
		t.Errorf("usage defaults = %+v", cfg.Usage)
	}
	if cfg.SSH.Enabled {
		t.Errorf("ssh enabled by default")
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
state_dir: /tmp/claude-web-test/state
agent:
  engine: direct
  model: claude-sonnet-4-5
  skip_permissions: true
http:
  addr: ":9000"
usage:
  ttl_seconds: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateDir != "/tmp/claude-web-test/state" {
		t.Errorf("state_dir = %q", cfg.StateDir)
	}
	if cfg.Agent.Engine != "direct" || cfg.Agent.Model != "claude-sonnet-4-5" || !cfg.Agent.SkipPermissions {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Errorf("http.addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Agent.Binary != "claude" {
		t.Errorf("unset keys lost defaults: binary = %q", cfg.Agent.Binary)
	}
	if got := cfg.ServiceConfig().RateLimitTTL; got != 5*time.Second {
		t.Errorf("rate limit ttl = %v", got)
	}
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9000"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version is required") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 99
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRejectsUnknownEngine(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
agent:
  engine: telepathy
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "agent.engine") {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestLoadRejectsBasePathURL(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
http:
  base_path: https://example.com/app
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "http.base_path") {
		t.Fatalf("expected base_path error, got %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestLoadExpandsStateDir(t *testing.T) {
	t.Setenv("CLAUDE_WEB_TEST_BASE", "/srv/claude")
	path := writeConfig(t, `
config_version: 1
state_dir: $CLAUDE_WEB_TEST_BASE/state
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateDir != "/srv/claude/state" {
		t.Errorf("state_dir = %q", cfg.StateDir)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config to exist: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := WriteDefault(path, false); err != nil {
		t.Fatalf("write default: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load written default: %v", err)
	}
	want, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg.StateDir != want.StateDir || cfg.Agent.Binary != want.Agent.Binary {
		t.Errorf("round trip drifted: got %+v want %+v", cfg, want)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
