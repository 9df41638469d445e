// Package statsfile reads the aggregate usage file the claude CLI keeps
// next to its transcripts. The file is optional and its location has moved
// between CLI releases, so loading tries a list of candidates.
package statsfile

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/stomrex77/claude-web/schema"
)

// ErrNoStatsFile reports that none of the candidate paths was readable.
var ErrNoStatsFile = errors.New("no stats cache file found")

// File is the parsed stats cache.
type File struct {
	TotalSessions int                   `json:"totalSessions"`
	TotalMessages int                   `json:"totalMessages"`
	ModelUsage    map[string]ModelUsage `json:"modelUsage"`
}

// ModelUsage is one per-model bucket in the stats cache.
type ModelUsage struct {
	InputTokens              int     `json:"inputTokens"`
	OutputTokens             int     `json:"outputTokens"`
	CacheReadInputTokens     int     `json:"cacheReadInputTokens"`
	CacheCreationInputTokens int     `json:"cacheCreationInputTokens"`
	CostUSD                  float64 `json:"costUSD"`
}

// Load parses the first readable candidate path.
func Load(candidates []string) (*File, error) {
	var lastErr error
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				lastErr = err
			}
			continue
		}
		var f File
		if err := json.Unmarshal(data, &f); err != nil {
			lastErr = err
			continue
		}
		return &f, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoStatsFile
}

// Totals sums all model buckets, folding cache tokens into input.
func (f *File) Totals() schema.UsageTotals {
	var totals schema.UsageTotals
	if f == nil {
		return totals
	}
	for _, usage := range f.ModelUsage {
		totals.Input += usage.InputTokens + usage.CacheReadInputTokens + usage.CacheCreationInputTokens
		totals.Output += usage.OutputTokens
		totals.CostUSD += usage.CostUSD
	}
	return totals
}

// Stats converts the file into the dashboard stats shape.
func (f *File) Stats() schema.Stats {
	var stats schema.Stats
	if f == nil {
		return stats
	}
	stats.TotalSessions = f.TotalSessions
	stats.TotalMessages = f.TotalMessages
	if len(f.ModelUsage) > 0 {
		stats.Models = make(map[string]schema.ModelStats, len(f.ModelUsage))
	}
	for model, usage := range f.ModelUsage {
		stats.Models[model] = schema.ModelStats{
			InputTokens:  usage.InputTokens + usage.CacheReadInputTokens + usage.CacheCreationInputTokens,
			OutputTokens: usage.OutputTokens,
			CostUSD:      usage.CostUSD,
		}
	}
	totals := f.Totals()
	stats.Tokens = schema.TokenUsage{Input: totals.Input, Output: totals.Output}
	stats.CostUSD = totals.CostUSD
	return stats
}
