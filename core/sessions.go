package core

import (
	"context"
	"errors"

	"github.com/stomrex77/claude-web/internal/logx"
	"github.com/stomrex77/claude-web/schema"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

// mergedSessions combines CLI transcript summaries with the local
// store. The transcript view wins per id because it sees every turn,
// including ones made outside this server; cost only lives locally, so
// a zero external cost takes the local figure.
func (s *service) mergedSessions() []schema.Session {
	local := s.store.ListAll()
	if s.transcripts == nil {
		schema.SortByActivity(local)
		return local
	}
	merged := s.transcripts.Sessions()
	index := make(map[schema.SessionID]int, len(merged))
	for i, session := range merged {
		index[session.ID] = i
	}
	for _, session := range local {
		if i, ok := index[session.ID]; ok {
			if merged[i].CostUSD == 0 {
				merged[i].CostUSD = session.CostUSD
			}
			continue
		}
		merged = append(merged, session)
	}
	schema.SortByActivity(merged)
	return merged
}

// ListSessions returns one page of the merged session list, newest
// activity first. Warmup sessions are hidden unless asked for.
func (s *service) ListSessions(ctx context.Context, req schema.ListSessionsRequest) (schema.ListSessionsResponse, error) {
	if ctx == nil {
		return schema.ListSessionsResponse{}, errors.New("missing context")
	}
	var filtered []schema.Session
	for _, session := range s.mergedSessions() {
		if !req.IncludeWarmup && schema.IsWarmupSession(session) {
			continue
		}
		if req.MinMessages > 0 && session.MessageCount < req.MinMessages {
			continue
		}
		filtered = append(filtered, session)
	}

	page := req.Page
	if page <= 0 {
		page = defaultPage
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	start := (page - 1) * limit
	end := start + limit
	if start > len(filtered) {
		start = len(filtered)
	}
	if end > len(filtered) {
		end = len(filtered)
	}

	s.logger.Debug("service sessions listed",
		"total", len(filtered),
		"page", page,
		"limit", limit,
	)
	return schema.ListSessionsResponse{
		Sessions: filtered[start:end],
		Total:    len(filtered),
		Page:     page,
		Limit:    limit,
	}, nil
}

// GetSession returns the merged record for one session id.
func (s *service) GetSession(ctx context.Context, req schema.GetSessionRequest) (schema.GetSessionResponse, error) {
	if ctx == nil {
		return schema.GetSessionResponse{}, errors.New("missing context")
	}
	if err := schema.ValidateSessionID(req.SessionID); err != nil {
		return schema.GetSessionResponse{}, err
	}
	if s.transcripts != nil {
		if session, ok := s.transcripts.Find(req.SessionID); ok {
			if session.CostUSD == 0 {
				if local, found := s.store.Get(req.SessionID); found {
					session.CostUSD = local.CostUSD
				}
			}
			return schema.GetSessionResponse{Session: session}, nil
		}
	}
	if session, ok := s.store.Get(req.SessionID); ok {
		return schema.GetSessionResponse{Session: session}, nil
	}
	return schema.GetSessionResponse{}, schema.ErrSessionNotFound
}

// SessionMessages replays the CLI transcript for one session. Sessions
// without a transcript on disk, including ones run purely in process,
// have no replayable history.
func (s *service) SessionMessages(ctx context.Context, req schema.SessionMessagesRequest) (schema.SessionMessagesResponse, error) {
	if ctx == nil {
		return schema.SessionMessagesResponse{}, errors.New("missing context")
	}
	if s.transcripts == nil {
		return schema.SessionMessagesResponse{}, schema.ErrTranscriptNotFound
	}
	messages, err := s.transcripts.Messages(req.SessionID)
	if err != nil {
		return schema.SessionMessagesResponse{}, err
	}
	return schema.SessionMessagesResponse{Messages: messages}, nil
}

// RemoveSession deletes the local record for one session. Transcripts
// under the CLI's own directory are never touched, so an externally
// discovered session reappears on the next listing.
func (s *service) RemoveSession(ctx context.Context, req schema.RemoveSessionRequest) (schema.RemoveSessionResponse, error) {
	if ctx == nil {
		return schema.RemoveSessionResponse{}, errors.New("missing context")
	}
	if err := schema.ValidateSessionID(req.SessionID); err != nil {
		return schema.RemoveSessionResponse{}, err
	}
	if !s.store.Remove(req.SessionID) {
		return schema.RemoveSessionResponse{}, schema.ErrSessionNotFound
	}
	s.publish(schema.ServerEvent{Type: schema.ServerEventSessionRemoved, SessionID: req.SessionID})
	logx.WithSession(ctx, req.SessionID).Info("service session removed")
	return schema.RemoveSessionResponse{}, nil
}
