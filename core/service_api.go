package core

import (
	"context"

	"github.com/stomrex77/claude-web/schema"
)

// Service is the transport-agnostic API for agent tasks, session
// records, usage accounting and file browsing.
type Service interface {
	ExecuteTask(ctx context.Context, req schema.TaskRequest) (schema.TaskResponse, error)
	StreamTask(ctx context.Context, req schema.TaskRequest, emit EmitFunc) error
	ListSessions(ctx context.Context, req schema.ListSessionsRequest) (schema.ListSessionsResponse, error)
	GetSession(ctx context.Context, req schema.GetSessionRequest) (schema.GetSessionResponse, error)
	SessionMessages(ctx context.Context, req schema.SessionMessagesRequest) (schema.SessionMessagesResponse, error)
	RemoveSession(ctx context.Context, req schema.RemoveSessionRequest) (schema.RemoveSessionResponse, error)
	TotalUsage(ctx context.Context, req schema.TotalUsageRequest) (schema.TotalUsageResponse, error)
	RateLimits(ctx context.Context, req schema.RateLimitsRequest) (schema.RateLimitsResponse, error)
	Stats(ctx context.Context, req schema.StatsRequest) (schema.StatsResponse, error)
	FileTree(ctx context.Context, req schema.FileTreeRequest) (schema.FileTreeResponse, error)
}

// EmitFunc receives one normalized task event. Returning an error stops
// the stream; the underlying process is reaped through the context.
type EmitFunc func(event schema.TaskEvent) error
