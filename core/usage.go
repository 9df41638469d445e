package core

import (
	"context"
	"errors"

	"github.com/stomrex77/claude-web/internal/claudehome"
	"github.com/stomrex77/claude-web/internal/statsfile"
	"github.com/stomrex77/claude-web/schema"
)

// TotalUsage reports aggregate token and cost usage. The CLI's own
// stats cache is authoritative when present; otherwise the merged
// session list is summed, which misses turns the cache would count.
func (s *service) TotalUsage(ctx context.Context, req schema.TotalUsageRequest) (schema.TotalUsageResponse, error) {
	if ctx == nil {
		return schema.TotalUsageResponse{}, errors.New("missing context")
	}
	if file := s.loadStatsFile(); file != nil {
		return schema.TotalUsageResponse{Usage: file.Totals()}, nil
	}
	var totals schema.UsageTotals
	for _, session := range s.mergedSessions() {
		totals.Input += session.Tokens.Input
		totals.Output += session.Tokens.Output
		totals.CostUSD += session.CostUSD
	}
	return schema.TotalUsageResponse{Usage: totals}, nil
}

// Stats reports the dashboard aggregates. Per-model figures only exist
// in the stats cache; without it the response carries session-derived
// totals and no model breakdown.
func (s *service) Stats(ctx context.Context, req schema.StatsRequest) (schema.StatsResponse, error) {
	if ctx == nil {
		return schema.StatsResponse{}, errors.New("missing context")
	}
	merged := s.mergedSessions()
	file := s.loadStatsFile()
	if file == nil {
		return schema.StatsResponse{Stats: statsFromSessions(merged)}, nil
	}
	stats := file.Stats()
	if stats.TotalSessions == 0 {
		stats.TotalSessions = len(merged)
	}
	if stats.TotalMessages == 0 {
		for _, session := range merged {
			stats.TotalMessages += session.MessageCount
		}
	}
	return schema.StatsResponse{Stats: stats}, nil
}

// RateLimits returns the scraped plan limits, cached for the configured
// TTL. A scrape failure serves the previous snapshot when one exists.
func (s *service) RateLimits(ctx context.Context, req schema.RateLimitsRequest) (schema.RateLimitsResponse, error) {
	if ctx == nil {
		return schema.RateLimitsResponse{}, errors.New("missing context")
	}
	if s.limits == nil {
		return schema.RateLimitsResponse{}, nil
	}

	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	if !s.rateFetched.IsZero() && s.now().Sub(s.rateFetched) < s.cfg.RateLimitTTL {
		return schema.RateLimitsResponse{Limits: s.rateCache}, nil
	}

	limits, err := s.limits.Scrape(ctx)
	if err != nil {
		if !s.rateFetched.IsZero() {
			s.logger.Warn("service rate limit scrape failed, serving stale", "err", err)
			return schema.RateLimitsResponse{Limits: s.rateCache}, nil
		}
		s.logger.Warn("service rate limit scrape failed", "err", err)
		return schema.RateLimitsResponse{}, err
	}
	s.rateCache = limits
	s.rateFetched = s.now()
	limitsCopy := limits
	s.publish(schema.ServerEvent{Type: schema.ServerEventRateLimits, RateLimits: &limitsCopy})
	s.logger.Debug("service rate limits refreshed")
	return schema.RateLimitsResponse{Limits: limits}, nil
}

// loadStatsFile returns the parsed CLI stats cache, or nil when no
// candidate path is readable.
func (s *service) loadStatsFile() *statsfile.File {
	candidates, err := claudehome.StatsCacheCandidates()
	if err != nil {
		return nil
	}
	file, err := statsfile.Load(candidates)
	if err != nil {
		if !errors.Is(err, statsfile.ErrNoStatsFile) {
			s.logger.Warn("service stats cache unreadable", "err", err)
		}
		return nil
	}
	return file
}

func statsFromSessions(sessions []schema.Session) schema.Stats {
	stats := schema.Stats{TotalSessions: len(sessions)}
	for _, session := range sessions {
		stats.TotalMessages += session.MessageCount
		stats.Tokens.Add(session.Tokens)
		stats.CostUSD += session.CostUSD
	}
	return stats
}
