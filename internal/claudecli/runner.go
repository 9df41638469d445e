// Package claudecli runs the claude CLI in print mode and decodes its
// stream-json output.
package claudecli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/stomrex77/claude-web/core"
	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

// Config controls how the claude process is invoked.
type Config struct {
	BinaryPath string
	ExtraArgs  []string
	Env        []string
	// SkipPermissions passes --dangerously-skip-permissions so unattended
	// tasks can execute tools. Server deployments run sandboxed anyway.
	SkipPermissions bool
	// DisablePartialMessages suppresses --include-partial-messages for
	// CLI builds that reject the flag. Streams then carry whole
	// assistant messages instead of deltas.
	DisablePartialMessages bool
}

// Runner implements core.Runner.
type Runner struct {
	cfg Config
}

// NewRunner constructs a claude print-mode runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "claude"
	}
	return &Runner{cfg: cfg}, nil
}

// Run starts a claude process with the prompt on stdin.
func (r *Runner) Run(ctx context.Context, req core.RunRequest) (core.RunHandle, error) {
	if req.Prompt == "" {
		return nil, schema.ErrEmptyTask
	}
	args := buildPrintArgs(r.cfg, req)
	log := pslog.Ctx(ctx)
	if log != nil {
		log.Info(
			"claude start",
			"workdir", req.WorkingDir,
			"args", args,
			"model", req.Model,
			"resume", req.ResumeSessionID != "",
			"partial", req.IncludePartial,
			"prompt_len", len(req.Prompt),
			"env_extra", len(r.cfg.Env),
		)
	}

	cmd := exec.CommandContext(ctx, r.cfg.BinaryPath, args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Env = append(os.Environ(), r.cfg.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		if log != nil {
			log.Error("claude stdout failed", "err", err)
		}
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		if log != nil {
			log.Error("claude stderr failed", "err", err)
		}
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		if log != nil {
			log.Error("claude stdin failed", "err", err)
		}
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		if log != nil {
			log.Error("claude start failed", "err", err)
		}
		return nil, err
	}
	if log != nil && cmd.Process != nil {
		log.Info("claude started", "pid", cmd.Process.Pid)
	}

	go func() {
		_, _ = io.WriteString(stdin, req.Prompt)
		_ = stdin.Close()
	}()

	stream := newCombinedStream(ctx, stdout, stderr)
	handle := &runHandle{
		cmd:     cmd,
		stream:  stream,
		log:     log,
		started: time.Now(),
	}
	return handle, nil
}

func buildPrintArgs(cfg Config, req core.RunRequest) []string {
	args := []string{"--print", "--verbose", "--output-format", "stream-json"}
	if req.IncludePartial && !cfg.DisablePartialMessages {
		args = append(args, "--include-partial-messages")
	}
	if req.Model != "" {
		args = append(args, "--model", string(req.Model))
	}
	if cfg.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	args = append(args, cfg.ExtraArgs...)
	if req.ResumeSessionID != "" {
		args = append(args, "--resume", string(req.ResumeSessionID))
	}
	return args
}

type runHandle struct {
	cmd     *exec.Cmd
	stream  *combinedStream
	log     pslog.Logger
	started time.Time
}

func (r *runHandle) Events() core.EventStream {
	return r.stream
}

func (r *runHandle) Wait(ctx context.Context) (core.RunResult, error) {
	_ = ctx
	if r.cmd == nil {
		return core.RunResult{}, fmt.Errorf("process not started")
	}
	err := r.cmd.Wait()
	signal := ""
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				signal = status.Signal().String()
			}
		} else {
			if r.log != nil {
				r.log.Error("claude wait failed", "err", err)
			}
			return core.RunResult{}, err
		}
	}
	if r.log != nil {
		fields := []any{
			"exit_code", exitCode,
			"duration_ms", time.Since(r.started).Milliseconds(),
		}
		if signal != "" {
			fields = append(fields, "signal", signal)
		}
		if err != nil {
			fields = append(fields, "err", err)
		}
		r.log.Info("claude finished", fields...)
	}
	return core.RunResult{ExitCode: exitCode}, nil
}

func (r *runHandle) Close() error {
	if r.stream != nil {
		_ = r.stream.Close()
	}
	return nil
}
