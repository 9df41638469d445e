package schema

// Agent tasks.

// TaskRequest describes an agent task submission. The same shape serves
// blocking execution and streaming; an empty SessionID starts a new
// conversation, a prior id resumes it through the CLI's own mechanism.
type TaskRequest struct {
	Task             string
	SessionID        SessionID
	WorkingDirectory string
	Model            ModelID
}

// TaskResponse reports the outcome of a blocking task execution.
type TaskResponse struct {
	SessionID  SessionID
	Response   string
	ToolCalls  []ToolCall
	StopReason string
}

// Session listing.

// ListSessionsRequest describes a request for the merged session list.
type ListSessionsRequest struct {
	Page          int
	Limit         int
	IncludeWarmup bool
	MinMessages   int
}

// ListSessionsResponse reports one page of sessions, last activity first.
type ListSessionsResponse struct {
	Sessions []Session
	Total    int
	Page     int
	Limit    int
}

// GetSessionRequest describes a request for one session record.
type GetSessionRequest struct {
	SessionID SessionID
}

// GetSessionResponse reports the session record.
type GetSessionResponse struct {
	Session Session
}

// SessionMessagesRequest describes a request to replay a transcript.
type SessionMessagesRequest struct {
	SessionID SessionID
}

// SessionMessagesResponse reports the reconstructed conversation.
type SessionMessagesResponse struct {
	Messages []Message
}

// RemoveSessionRequest describes a user-initiated session clear. Only
// the local record is removed; CLI transcripts are never touched.
type RemoveSessionRequest struct {
	SessionID SessionID
}

// RemoveSessionResponse reports completion of the removal.
type RemoveSessionResponse struct{}

// Usage and limits.

// TotalUsageRequest describes a request for aggregate usage.
type TotalUsageRequest struct{}

// TotalUsageResponse reports aggregate token and cost usage.
type TotalUsageResponse struct {
	Usage UsageTotals
}

// RateLimitsRequest describes a request for the scraped rate limits.
type RateLimitsRequest struct{}

// RateLimitsResponse reports the cached or freshly scraped limits.
type RateLimitsResponse struct {
	Limits RateLimits
}

// StatsRequest describes a request for dashboard statistics.
type StatsRequest struct{}

// StatsResponse reports aggregate statistics.
type StatsResponse struct {
	Stats Stats
}

// File browsing.

// FileTreeRequest describes a bounded directory walk.
type FileTreeRequest struct {
	Path  string
	Depth int
}

// FileTreeResponse reports the walked tree.
type FileTreeResponse struct {
	Tree []FileNode
}

// FileNode is one entry in a directory tree.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	IsDir    bool       `json:"isDirectory"`
	Children []FileNode `json:"children,omitempty"`
}
