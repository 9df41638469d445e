package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stomrex77/claude-web/internal/anthropic"
)

const (
	editorToolName = "str_replace_editor"
	bashToolName   = "bash"
)

var editorSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"command": {"type": "string", "enum": ["view", "create", "str_replace", "insert"]},
		"path": {"type": "string"},
		"file_text": {"type": "string"},
		"old_str": {"type": "string"},
		"new_str": {"type": "string"},
		"insert_line": {"type": "integer"},
		"view_range": {"type": "array", "items": {"type": "integer"}}
	},
	"required": ["command", "path"]
}`)

var bashSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"command": {"type": "string"}
	},
	"required": ["command"]
}`)

// toolset executes tool_use blocks. Relative paths resolve against the
// per-run working directory, which is passed per call.
type toolset struct {
	bashTimeout time.Duration
}

func (t *toolset) definitions() []anthropic.Tool {
	return []anthropic.Tool{
		{
			Name: editorToolName,
			Description: "View, create and edit files. Commands: view shows numbered " +
				"lines (optional view_range [start, end], end -1 means end of file), " +
				"create writes file_text, str_replace swaps a unique old_str for " +
				"new_str, insert places new_str after line insert_line (0 inserts at " +
				"the top).",
			InputSchema: editorSchema,
		},
		{
			Name: bashToolName,
			Description: "Run a shell command in the working directory. Returns " +
				"combined stdout and stderr. Output is truncated past 100KB and " +
				"long commands are killed on timeout.",
			InputSchema: bashSchema,
		},
	}
}

func (t *toolset) execute(ctx context.Context, workdir, name string, input json.RawMessage) (string, error) {
	switch name {
	case editorToolName:
		var in editorInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("decode %s input: %w", name, err)
		}
		return runEditor(workdir, in)
	case bashToolName:
		var in bashInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("decode %s input: %w", name, err)
		}
		return t.runBash(ctx, workdir, in.Command)
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}
