package schema

import "encoding/json"

// AgentEventType is the top-level type emitted by claude --output-format stream-json.
type AgentEventType string

const (
	// AgentEventSystem carries CLI lifecycle notices; subtype "init" opens a session.
	AgentEventSystem AgentEventType = "system"
	// AgentEventStream wraps incremental API events from --include-partial-messages.
	AgentEventStream AgentEventType = "stream_event"
	// AgentEventAssistant carries a complete assistant message.
	AgentEventAssistant AgentEventType = "assistant"
	// AgentEventUser carries tool results echoed back as user turns.
	AgentEventUser AgentEventType = "user"
	// AgentEventResult terminates a turn with final text, usage and cost.
	AgentEventResult AgentEventType = "result"
	// AgentEventError indicates a stream-level error.
	AgentEventError AgentEventType = "error"
)

// AgentEvent is the normalized event shape for claude stream-json output.
type AgentEvent struct {
	Type      AgentEventType  `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID SessionID       `json:"session_id,omitempty"`
	Model     string          `json:"model,omitempty"`
	Message   *MessageBody    `json:"message,omitempty"`
	Event     *StreamDelta    `json:"event,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	CostUSD   float64         `json:"total_cost_usd,omitempty"`
	Usage     *AgentUsage     `json:"usage,omitempty"`
	Error     *ErrorEvent     `json:"error,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// MessageBody is the API message payload inside assistant and user events.
type MessageBody struct {
	ID         string         `json:"id,omitempty"`
	Role       string         `json:"role,omitempty"`
	Model      string         `json:"model,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
	Content    []ContentBlock `json:"content,omitempty"`
	Usage      *AgentUsage    `json:"usage,omitempty"`
}

// ContentBlock mirrors the API content block union. Content holds the
// raw tool_result payload, which may be a string or a block array.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// StreamDelta is the inner payload of a stream_event wrapper.
type StreamDelta struct {
	Type         string        `json:"type"`
	Index        int           `json:"index,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *DeltaBody    `json:"delta,omitempty"`
}

// DeltaBody carries incremental content from content_block_delta events.
type DeltaBody struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// AgentUsage captures token usage reported by the CLI.
type AgentUsage struct {
	InputTokens              int `json:"input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	OutputTokens             int `json:"output_tokens,omitempty"`
}

// TotalInput folds cache tokens into the input count. The dashboard
// reports a single "input" figure the way the CLI's own stats do.
func (u AgentUsage) TotalInput() int {
	return u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// ErrorEvent captures stream-level errors.
type ErrorEvent struct {
	Message string `json:"message,omitempty"`
}
