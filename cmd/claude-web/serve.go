package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	claudeweb "github.com/stomrex77/claude-web"
	"github.com/stomrex77/claude-web/core"
	"github.com/stomrex77/claude-web/httpapi"
	"github.com/stomrex77/claude-web/internal/agentloop"
	"github.com/stomrex77/claude-web/internal/anthropic"
	"github.com/stomrex77/claude-web/internal/appconfig"
	"github.com/stomrex77/claude-web/internal/claudecli"
	"github.com/stomrex77/claude-web/internal/claudehome"
	"github.com/stomrex77/claude-web/internal/sessionstore"
	"github.com/stomrex77/claude-web/internal/terminal"
	"github.com/stomrex77/claude-web/internal/transcript"
	"github.com/stomrex77/claude-web/internal/usageterm"
	"github.com/stomrex77/claude-web/sshserver"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the claude-web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}

			runner, err := buildRunner(cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("agent engine selected", "engine", cfg.Agent.Engine, "binary", cfg.Agent.Binary, "model", cfg.Agent.Model)

			store, err := sessionstore.New(filepath.Join(cfg.StateDir, "sessions.json"), 0, logger)
			if err != nil {
				return err
			}

			var transcripts *transcript.Reader
			if home, err := claudehome.Dir(); err != nil {
				logger.Warn("claude home unavailable, transcript listing disabled", "err", err)
			} else {
				transcripts = transcript.NewReader(filepath.Join(home, "projects"), logger)
			}

			terminals := terminal.NewManager(terminal.Config{
				Shell: cfg.Terminal.Shell,
				Env:   appconfig.EnvSlice(cfg.Terminal.Env),
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var limits core.LimitScraper
			if cfg.Usage.Enabled {
				usage := usageterm.New(usageterm.Config{
					BinaryPath: cfg.Agent.Binary,
					WorkingDir: cfg.Usage.WorkingDir,
				}, logger)
				usage.Start(ctx)
				defer usage.Stop()
				limits = usage
			} else {
				logger.Info("usage terminal disabled, rate limits unavailable")
			}

			serverCfg := claudeweb.ServerConfig{
				Service: cfg.ServiceConfig(),
				HTTP: httpapi.Config{
					Addr:     cfg.HTTP.Addr,
					BasePath: cfg.HTTP.BasePath,
				},
				SSH: sshserver.Config{
					Addr:               cfg.SSH.Addr,
					HostKeyPath:        cfg.SSH.HostKeyPath,
					AuthorizedKeysPath: cfg.SSH.AuthorizedKeys,
				},
			}
			serverDeps := claudeweb.ServerDeps{
				ServiceDeps: core.ServiceDeps{
					Runner:      runner,
					Store:       store,
					Transcripts: transcripts,
					Limits:      limits,
					Logger:      logger,
				},
				Terminals: terminals,
			}

			opts := []claudeweb.ServerOption{claudeweb.WithHTTP()}
			if cfg.SSH.Enabled {
				opts = append(opts, claudeweb.WithSSH())
			}
			server, err := claudeweb.New(serverCfg, serverDeps, opts...)
			if err != nil {
				return err
			}

			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", cfg.HTTP.Addr)
			if cfg.SSH.Enabled {
				logger.Info("ssh server listening", "addr", cfg.SSH.Addr)
			}
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

// buildRunner picks the task backend. The cli engine shells out to the
// claude binary; the direct engine needs the API key up front because it
// talks to the messages API itself.
func buildRunner(cfg appconfig.Config, logger pslog.Logger) (core.Runner, error) {
	switch cfg.Agent.Engine {
	case "direct":
		client, err := anthropic.NewClient(anthropic.Config{
			BaseURL: cfg.Agent.APIBaseURL,
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		}, logger)
		if err != nil {
			return nil, err
		}
		return agentloop.NewEngine(client, agentloop.Config{
			Model:     cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}, logger), nil
	default:
		return claudecli.NewRunner(claudecli.Config{
			BinaryPath:             cfg.Agent.Binary,
			ExtraArgs:              cfg.Agent.Args,
			Env:                    appconfig.EnvSlice(cfg.Agent.Env),
			SkipPermissions:        cfg.Agent.SkipPermissions,
			DisablePartialMessages: !cfg.Agent.IncludePartial,
		})
	}
}
