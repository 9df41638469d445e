package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stomrex77/claude-web/internal/appconfig"
	"github.com/stomrex77/claude-web/internal/claudehome"
	"pkt.systems/pslog"
)

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	var versionTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run claude-web diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			failures := 0

			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				if path, err := appconfig.DefaultConfigPath(); err == nil {
					configPath = path
				}
			}
			logger.Info("doctor config ok", "config", configPath, "engine", cfg.Agent.Engine)

			if err := checkStateDir(cfg.StateDir); err != nil {
				logger.Error("doctor state dir failed", "dir", cfg.StateDir, "err", err)
				failures++
			} else {
				logger.Info("doctor state dir ok", "dir", cfg.StateDir)
			}

			if probed, err := checkClaudeBinary(cmd.Context(), cfg.Agent.Binary, versionTimeout); err != nil {
				// The direct engine talks to the API itself, so a
				// missing binary only disables usage scraping there.
				if cfg.Agent.Engine == "cli" {
					logger.Error("doctor claude binary failed", "binary", cfg.Agent.Binary, "err", err)
					failures++
				} else {
					logger.Warn("doctor claude binary missing", "binary", cfg.Agent.Binary, "err", err)
				}
			} else {
				logger.Info("doctor claude binary ok", "binary", cfg.Agent.Binary, "version", probed)
			}

			if home, err := claudehome.Dir(); err != nil {
				logger.Warn("doctor claude home unknown", "err", err)
			} else if _, statErr := os.Stat(filepath.Join(home, "projects")); statErr != nil {
				logger.Warn("doctor claude projects missing, listings use local store only", "dir", filepath.Join(home, "projects"))
			} else {
				logger.Info("doctor claude home ok", "dir", home)
			}

			if strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")) == "" {
				logger.Warn("doctor api key missing, task endpoints refuse until ANTHROPIC_API_KEY is exported")
			} else {
				logger.Info("doctor api key ok")
			}

			if failures > 0 {
				return fmt.Errorf("doctor found %d problem(s)", failures)
			}
			logger.Info("doctor ok")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().DurationVar(&versionTimeout, "version-timeout", 10*time.Second, "timeout for the claude version probe")
	return cmd
}

func checkStateDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}

func checkClaudeBinary(ctx context.Context, binary string, timeout time.Duration) (string, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", err
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := exec.CommandContext(runCtx, path, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", binary, err)
	}
	probed := strings.TrimSpace(string(out))
	if idx := strings.IndexByte(probed, '\n'); idx >= 0 {
		probed = probed[:idx]
	}
	return probed, nil
}
