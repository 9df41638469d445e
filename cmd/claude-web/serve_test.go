package main

import (
	"errors"
	"testing"

	"github.com/stomrex77/claude-web/internal/agentloop"
	"github.com/stomrex77/claude-web/internal/appconfig"
	"github.com/stomrex77/claude-web/internal/claudecli"
	"github.com/stomrex77/claude-web/schema"
)

func TestBuildRunnerDefaultsToCLI(t *testing.T) {
	var cfg appconfig.Config
	cfg.Agent.Engine = "cli"
	cfg.Agent.Binary = "claude"

	runner, err := buildRunner(cfg, nil)
	if err != nil {
		t.Fatalf("buildRunner: %v", err)
	}
	if _, ok := runner.(*claudecli.Runner); !ok {
		t.Fatalf("runner = %T, want *claudecli.Runner", runner)
	}
}

func TestBuildRunnerUnknownEngineFallsBackToCLI(t *testing.T) {
	var cfg appconfig.Config
	cfg.Agent.Engine = ""

	runner, err := buildRunner(cfg, nil)
	if err != nil {
		t.Fatalf("buildRunner: %v", err)
	}
	if _, ok := runner.(*claudecli.Runner); !ok {
		t.Fatalf("runner = %T, want *claudecli.Runner", runner)
	}
}

func TestBuildRunnerDirectRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	var cfg appconfig.Config
	cfg.Agent.Engine = "direct"

	if _, err := buildRunner(cfg, nil); !errors.Is(err, schema.ErrAPIKeyMissing) {
		t.Fatalf("buildRunner err = %v, want ErrAPIKeyMissing", err)
	}
}

func TestBuildRunnerDirectWithKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	var cfg appconfig.Config
	cfg.Agent.Engine = "direct"
	cfg.Agent.Model = "claude-sonnet-4-5"

	runner, err := buildRunner(cfg, nil)
	if err != nil {
		t.Fatalf("buildRunner: %v", err)
	}
	if _, ok := runner.(*agentloop.Engine); !ok {
		t.Fatalf("runner = %T, want *agentloop.Engine", runner)
	}
}
