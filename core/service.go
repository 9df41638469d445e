// Package core implements the transport-agnostic service behind the
// HTTP and SSH surfaces: agent task orchestration, the merged session
// view, usage accounting and bounded file browsing.
package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stomrex77/claude-web/internal/dirtree"
	"github.com/stomrex77/claude-web/internal/sessionstore"
	"github.com/stomrex77/claude-web/internal/transcript"
	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

// service implements the core service behavior.
type service struct {
	cfg         schema.ServiceConfig
	runner      Runner
	store       *sessionstore.Store
	transcripts *transcript.Reader
	limits      LimitScraper
	events      EventSink
	walker      *dirtree.Walker
	logger      pslog.Logger
	now         func() time.Time

	// rateMu serializes scrapes so concurrent cache misses do not
	// queue duplicate commands on the shared usage terminal.
	rateMu      sync.Mutex
	rateCache   schema.RateLimits
	rateFetched time.Time
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("session store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &service{
		cfg:         normalized,
		runner:      deps.Runner,
		store:       deps.Store,
		transcripts: deps.Transcripts,
		limits:      deps.Limits,
		events:      deps.Events,
		walker:      dirtree.NewWalker(logger),
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *service) publish(event schema.ServerEvent) {
	if s.events == nil {
		return
	}
	s.events.Publish(event)
}

func (s *service) publishSessionUpdated(session schema.Session) {
	copySession := session
	s.publish(schema.ServerEvent{
		Type:      schema.ServerEventSessionUpdated,
		SessionID: session.ID,
		Session:   &copySession,
	})
}
