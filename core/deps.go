package core

import (
	"context"

	"github.com/stomrex77/claude-web/internal/sessionstore"
	"github.com/stomrex77/claude-web/internal/transcript"
	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

// LimitScraper fetches rate-limit windows from the interactive CLI.
type LimitScraper interface {
	Scrape(ctx context.Context) (schema.RateLimits, error)
}

// EventSink receives server events emitted by the core service.
type EventSink interface {
	Publish(event schema.ServerEvent)
}

// ServiceDeps captures the core service's collaborators. Store is
// required; the rest degrade gracefully when nil.
type ServiceDeps struct {
	// Runner executes agent tasks. Nil makes task endpoints report the
	// agent as unavailable.
	Runner Runner
	// Store tracks sessions created through this server.
	Store *sessionstore.Store
	// Transcripts lists the CLI's own on-disk sessions. Nil limits
	// listings to the local store.
	Transcripts *transcript.Reader
	// Limits scrapes rate-limit windows. Nil disables the endpoint.
	Limits LimitScraper
	// Events receives session and task lifecycle events. Nil drops them.
	Events EventSink
	Logger pslog.Logger
}
