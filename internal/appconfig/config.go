package appconfig

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/stomrex77/claude-web/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion    int            `mapstructure:"config_version" yaml:"config_version"`
	StateDir         string         `mapstructure:"state_dir" yaml:"state_dir"`
	DefaultDirectory string         `mapstructure:"default_directory" yaml:"default_directory"`
	Agent            AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Terminal         TerminalConfig `mapstructure:"terminal" yaml:"terminal"`
	Usage            UsageConfig    `mapstructure:"usage" yaml:"usage"`
	HTTP             HTTPConfig     `mapstructure:"http" yaml:"http"`
	SSH              SSHConfig      `mapstructure:"ssh" yaml:"ssh"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// AgentConfig controls how agent tasks execute.
type AgentConfig struct {
	// Engine picks the task backend: "cli" delegates to the claude
	// binary, "direct" runs the in-process tool loop against the
	// messages API.
	Engine          string            `mapstructure:"engine" yaml:"engine"`
	Binary          string            `mapstructure:"binary" yaml:"binary"`
	Args            []string          `mapstructure:"args" yaml:"args"`
	Env             map[string]string `mapstructure:"env" yaml:"env"`
	Model           string            `mapstructure:"model" yaml:"model"`
	SkipPermissions bool              `mapstructure:"skip_permissions" yaml:"skip_permissions"`
	IncludePartial  bool              `mapstructure:"include_partial_messages" yaml:"include_partial_messages"`
	APIBaseURL      string            `mapstructure:"api_base_url" yaml:"api_base_url"`
	MaxTokens       int               `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// TerminalConfig configures browser and SSH terminal shells.
type TerminalConfig struct {
	Shell string            `mapstructure:"shell" yaml:"shell"`
	Env   map[string]string `mapstructure:"env" yaml:"env"`
}

// UsageConfig configures the persistent usage-scrape terminal.
type UsageConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	WorkingDir string `mapstructure:"working_dir" yaml:"working_dir"`
	TTLSeconds int    `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// SSHConfig configures the SSH attach surface.
type SSHConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr           string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath    string `mapstructure:"host_key_path" yaml:"host_key_path"`
	AuthorizedKeys string `mapstructure:"authorized_keys" yaml:"authorized_keys"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion:    CurrentConfigVersion,
		StateDir:         filepath.Join(home, ".claude-web", "state"),
		DefaultDirectory: home,
		Agent: AgentConfig{
			Engine:          "cli",
			Binary:          "claude",
			Args:            []string{},
			Env:             map[string]string{},
			Model:           "",
			SkipPermissions: false,
			IncludePartial:  true,
			APIBaseURL:      "https://api.anthropic.com",
			MaxTokens:       8192,
		},
		Terminal: TerminalConfig{
			Shell: "",
			Env:   map[string]string{},
		},
		Usage: UsageConfig{
			Enabled:    true,
			WorkingDir: home,
			TTLSeconds: 30,
		},
		HTTP: HTTPConfig{
			Addr:     ":3001",
			BasePath: "",
		},
		SSH: SSHConfig{
			Enabled:        false,
			Addr:           ":2222",
			HostKeyPath:    filepath.Join(home, ".claude-web", "ssh_host_key"),
			AuthorizedKeys: "",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude-web", "config.yaml"), nil
}

// ServiceConfig maps the file config onto the core service config.
func (c Config) ServiceConfig() schema.ServiceConfig {
	return schema.ServiceConfig{
		StateDir:         c.StateDir,
		DefaultDirectory: c.DefaultDirectory,
		DefaultModel:     schema.ModelID(c.Agent.Model),
		RateLimitTTL:     time.Duration(c.Usage.TTLSeconds) * time.Second,
	}
}

// EnvSlice flattens an env map into KEY=VALUE form, sorted so spawned
// process environments stay deterministic.
func EnvSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
