package agentloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

const maxBashOutput = 100 * 1024

type bashInput struct {
	Command string `json:"command"`
}

func (t *toolset) runBash(ctx context.Context, workdir, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", errors.New("command is required")
	}
	ctx, cancel := context.WithTimeout(ctx, t.bashTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", command)
	if workdir != "" {
		cmd.Dir = workdir
	}
	out := &cappedBuffer{max: maxBashOutput}
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start command: %w", err)
	}
	out.arm(func() { _ = cmd.Process.Kill() })
	waitErr := cmd.Wait()

	output := out.String()
	if out.Truncated() {
		return output + "\n[output truncated]", nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return output, fmt.Errorf("command timed out after %s", t.bashTimeout)
	}
	if waitErr != nil {
		return output, fmt.Errorf("command failed: %w", waitErr)
	}
	return output, nil
}

// cappedBuffer keeps a runaway command from buffering without bound.
// Writes past the cap are dropped and the process is killed.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	kill      func()
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.mu.Lock()
	if remain := b.max - b.buf.Len(); remain > 0 {
		if len(p) > remain {
			p = p[:remain]
		}
		b.buf.Write(p)
	}
	var kill func()
	if b.buf.Len() >= b.max && !b.truncated {
		b.truncated = true
		kill = b.kill
	}
	b.mu.Unlock()
	if kill != nil {
		kill()
	}
	return n, nil
}

// arm installs the kill hook once the process has started. The cap can
// trip before Start returns, so a pending kill fires here.
func (b *cappedBuffer) arm(kill func()) {
	b.mu.Lock()
	b.kill = kill
	fire := b.truncated
	b.mu.Unlock()
	if fire {
		kill()
	}
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
