package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEmptyTask indicates the task prompt was empty.
	ErrEmptyTask = errors.New("empty task")
	// ErrInvalidSession indicates an invalid session identifier.
	ErrInvalidSession = errors.New("invalid session id")
	// ErrSessionNotFound indicates a requested session could not be found.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTranscriptNotFound indicates no transcript file exists for a session.
	ErrTranscriptNotFound = errors.New("transcript not found")
	// ErrTerminalNotFound indicates a requested terminal could not be found.
	ErrTerminalNotFound = errors.New("terminal not found")
	// ErrTerminalExited indicates the usage terminal exited mid-command.
	ErrTerminalExited = errors.New("terminal exited")
	// ErrCommandTimeout indicates a terminal command produced no complete
	// output within its deadline.
	ErrCommandTimeout = errors.New("terminal command timed out")
	// ErrAPIKeyMissing indicates the agent cannot run without credentials.
	ErrAPIKeyMissing = errors.New("ANTHROPIC_API_KEY is not set")
	// ErrAgentUnavailable indicates no agent runner is configured.
	ErrAgentUnavailable = errors.New("agent runner not configured")
	// ErrInvalidPath indicates a malformed or disallowed filesystem path.
	ErrInvalidPath = errors.New("invalid path")
	// ErrPathNotFound indicates the requested filesystem path does not exist.
	ErrPathNotFound = errors.New("path not found")
)
