package core

import (
	"context"

	"github.com/stomrex77/claude-web/schema"
)

// Runner starts claude processes and exposes their stream-json events.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (RunHandle, error)
}

// RunRequest describes one claude invocation.
type RunRequest struct {
	WorkingDir      string
	Prompt          string
	Model           schema.ModelID
	ResumeSessionID schema.SessionID
	// IncludePartial requests stream_event deltas for token-level streaming.
	IncludePartial bool
}

// RunHandle exposes the event stream and process lifecycle. Cancelling the
// context passed to Run kills the underlying process.
type RunHandle interface {
	Events() EventStream
	Wait(ctx context.Context) (RunResult, error)
	Close() error
}

// EventStream yields decoded events from a claude process.
type EventStream interface {
	Next(ctx context.Context) (schema.AgentEvent, error)
	Close() error
}

// RunResult describes the process outcome.
type RunResult struct {
	ExitCode int
}
