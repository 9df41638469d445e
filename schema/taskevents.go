package schema

import "encoding/json"

// TaskEventType enumerates the normalized agent task event kinds.
type TaskEventType string

const (
	// TaskEventConnected reports the resolved session id, once per stream.
	TaskEventConnected TaskEventType = "connected"
	// TaskEventToken carries an incremental text delta.
	TaskEventToken TaskEventType = "token"
	// TaskEventToolUse reports an agent tool invocation.
	TaskEventToolUse TaskEventType = "tool_use"
	// TaskEventToolResult reports the outcome of a tool invocation.
	TaskEventToolResult TaskEventType = "tool_result"
	// TaskEventComplete terminates a stream with usage and stop reason.
	TaskEventComplete TaskEventType = "complete"
	// TaskEventError terminates a stream with a failure message.
	TaskEventError TaskEventType = "error"
)

// TaskEvent is the tagged union streamed to agent task consumers.
// Exactly one variant field is set, matching Type.
type TaskEvent struct {
	Type       TaskEventType    `json:"type"`
	Connected  *ConnectedEvent  `json:"connected,omitempty"`
	Token      *TokenEvent      `json:"token,omitempty"`
	ToolUse    *ToolUseEvent    `json:"toolUse,omitempty"`
	ToolResult *ToolResultEvent `json:"toolResult,omitempty"`
	Complete   *CompleteEvent   `json:"complete,omitempty"`
	Error      *ErrorEvent      `json:"error,omitempty"`
}

// Payload returns the populated variant for transport encoding.
func (e TaskEvent) Payload() any {
	switch e.Type {
	case TaskEventConnected:
		return e.Connected
	case TaskEventToken:
		return e.Token
	case TaskEventToolUse:
		return e.ToolUse
	case TaskEventToolResult:
		return e.ToolResult
	case TaskEventComplete:
		return e.Complete
	case TaskEventError:
		return e.Error
	default:
		return nil
	}
}

// ConnectedEvent reports the session the stream is attached to.
type ConnectedEvent struct {
	SessionID SessionID `json:"sessionId"`
}

// TokenEvent carries an incremental assistant text delta.
type TokenEvent struct {
	Text string `json:"text"`
}

// ToolUseEvent reports a tool invocation requested by the agent.
type ToolUseEvent struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResultEvent reports the result of an earlier tool invocation.
type ToolResultEvent struct {
	ToolUseID string `json:"toolUseId,omitempty"`
	Content   string `json:"content"`
	IsError   bool   `json:"isError,omitempty"`
}

// CompleteEvent closes a stream with the turn's final accounting.
type CompleteEvent struct {
	SessionID  SessionID  `json:"sessionId"`
	StopReason string     `json:"stopReason,omitempty"`
	Usage      TokenUsage `json:"usage"`
	CostUSD    float64    `json:"costUsd,omitempty"`
}

// ServerEventType enumerates dashboard live-feed event kinds.
type ServerEventType string

const (
	// ServerEventSessionUpdated signals a session record changed.
	ServerEventSessionUpdated ServerEventType = "session.updated"
	// ServerEventSessionRemoved signals a session record was removed.
	ServerEventSessionRemoved ServerEventType = "session.removed"
	// ServerEventTaskStarted signals an agent task began.
	ServerEventTaskStarted ServerEventType = "task.started"
	// ServerEventTaskCompleted signals an agent task finished.
	ServerEventTaskCompleted ServerEventType = "task.completed"
	// ServerEventRateLimits signals a fresh rate-limit scrape.
	ServerEventRateLimits ServerEventType = "rate_limits.updated"
)

// ServerEvent is broadcast to dashboard clients when server state changes.
type ServerEvent struct {
	Type       ServerEventType `json:"type"`
	SessionID  SessionID       `json:"sessionId,omitempty"`
	Session    *Session        `json:"session,omitempty"`
	RateLimits *RateLimits     `json:"rateLimits,omitempty"`
	Time       string          `json:"time,omitempty"`
}
