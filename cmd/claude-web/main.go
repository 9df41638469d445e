package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	args := applyArgv0Alias(os.Args)
	root := newRootCmd()
	root.SetArgs(args[1:])

	if err := root.ExecuteContext(ctx); err != nil {
		if !isClaudeMockInvocation(args) {
			pslog.Ctx(ctx).With("err", err).Error("claude-web command failed")
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "claude-web",
		Short:         "Web and SSH backend for the claude CLI",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newClaudeMockCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// argv0Alias lets a symlink named claude-mock act as the mock agent, so
// agent.binary can point straight at it.
func argv0Alias(base string) string {
	switch base {
	case "claude-mock", "claude-web-mock":
		return "claude-mock"
	default:
		return ""
	}
}

func applyArgv0Alias(args []string) []string {
	if len(args) == 0 {
		return args
	}
	alias := argv0Alias(filepath.Base(args[0]))
	if alias == "" {
		return args
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0], alias)
	out = append(out, args[1:]...)
	return out
}

// isClaudeMockInvocation keeps the mock's stdout clean of error logs;
// its consumer is a stream-json parser, not a person.
func isClaudeMockInvocation(args []string) bool {
	return len(args) > 1 && args[1] == "claude-mock"
}
