package schema

import (
	"encoding/json"
	"sort"
)

// SessionID identifies an agent conversation session. Ids are assigned
// either by the claude CLI (on new conversations) or by the transcript
// filename when a session is discovered on disk.
type SessionID string

// TerminalID identifies a browser terminal session.
type TerminalID string

// ModelID identifies an LLM model or model alias.
type ModelID string

// SessionSource tells where a session record was discovered.
type SessionSource string

const (
	// SourceLocal marks sessions tracked in this server's own store.
	SourceLocal SessionSource = "local"
	// SourceExternal marks sessions discovered in the CLI transcript directory.
	SourceExternal SessionSource = "external"
)

// TokenUsage holds cumulative token counts for a session.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Add accumulates another usage sample onto u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
}

// Session is the metadata record for one agent conversation.
type Session struct {
	ID           SessionID     `json:"id"`
	Title        string        `json:"title"`
	Directory    string        `json:"directory,omitempty"`
	MessageCount int           `json:"messageCount"`
	CreatedAt    string        `json:"createdAt"`
	LastActivity string        `json:"lastActivity"`
	Tokens       TokenUsage    `json:"tokens"`
	CostUSD      float64       `json:"costUsd"`
	Source       SessionSource `json:"source,omitempty"`
}

// SortByActivity orders sessions by last activity, newest first. Ties
// break on id so listings stay deterministic within one timestamp second.
func SortByActivity(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].LastActivity != sessions[j].LastActivity {
			return sessions[i].LastActivity > sessions[j].LastActivity
		}
		return sessions[i].ID < sessions[j].ID
	})
}

// Message is one reconstructed conversation turn.
type Message struct {
	Role      string     `json:"role"`
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`
}

// ToolCall pairs a tool_use block with its later tool_result sibling.
// Result stays empty when the transcript or stream ends before the
// matching tool_result arrives.
type ToolCall struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input,omitempty"`
	Result  string          `json:"result,omitempty"`
	Details *ToolDetails    `json:"details,omitempty"`
}

// ToolDetails carries rich display metadata derived from a tool call.
type ToolDetails struct {
	FilePath   string `json:"filePath,omitempty"`
	LineCount  int    `json:"lineCount,omitempty"`
	Diff       string `json:"diff,omitempty"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	MatchCount int    `json:"matchCount,omitempty"`
}
