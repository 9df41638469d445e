package schema

import "time"

// TerminalSnapshot is a read-only view of a terminal session.
type TerminalSnapshot struct {
	ID        TerminalID `json:"id"`
	Cwd       string     `json:"cwd"`
	CreatedAt time.Time  `json:"createdAt"`
}

// RateLimitWindow is one scraped rate-limit bucket. Percent comes
// straight from the CLI's own display and is not re-validated here.
type RateLimitWindow struct {
	Name          string `json:"name"`
	PercentUsed   int    `json:"percentUsed"`
	ResetTime     string `json:"resetTime,omitempty"`
	ResetTimezone string `json:"resetTimezone,omitempty"`
}

// RateLimits groups the scraped usage windows.
type RateLimits struct {
	Session       *RateLimitWindow `json:"session,omitempty"`
	WeekAllModels *RateLimitWindow `json:"weekAllModels,omitempty"`
	WeekSonnet    *RateLimitWindow `json:"weekSonnet,omitempty"`
	FetchedAt     time.Time        `json:"fetchedAt"`
}

// UsageTotals is the aggregate token and cost usage across all sessions.
type UsageTotals struct {
	Input   int     `json:"input"`
	Output  int     `json:"output"`
	CostUSD float64 `json:"costUsd"`
}

// ModelStats summarizes per-model usage from the external stats cache.
type ModelStats struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// Stats is the dashboard aggregate view built from the stats cache and
// the merged session list.
type Stats struct {
	TotalSessions int                   `json:"totalSessions"`
	TotalMessages int                   `json:"totalMessages"`
	Tokens        TokenUsage            `json:"tokens"`
	CostUSD       float64               `json:"costUsd"`
	Models        map[string]ModelStats `json:"models,omitempty"`
}
