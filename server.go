// Package claudeweb composes the HTTP and SSH surfaces over a single
// core service and terminal manager.
package claudeweb

import (
	"context"
	"errors"
	"sync"

	"github.com/stomrex77/claude-web/core"
	"github.com/stomrex77/claude-web/httpapi"
	"github.com/stomrex77/claude-web/internal/eventbus"
	"github.com/stomrex77/claude-web/internal/terminal"
	"github.com/stomrex77/claude-web/internal/transcript"
	"github.com/stomrex77/claude-web/internal/version"
	"github.com/stomrex77/claude-web/schema"
	"github.com/stomrex77/claude-web/sshserver"
	"pkt.systems/pslog"
)

// Server composes the HTTP and SSH services.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service schema.ServiceConfig
	HTTP    httpapi.Config
	SSH     sshserver.Config
	Version string
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	ServiceDeps core.ServiceDeps
	Terminals   *terminal.Manager
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP bool
	enableSSH  bool
}

// WithHTTP enables the HTTP API server.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithSSH enables the SSH server.
func WithSSH() ServerOption {
	return func(o *serverOptions) { o.enableSSH = true }
}

// New constructs a composable claude-web server. The HTTP surface gets
// an event bus for the live feed; when the caller supplied its own
// event sink both receive every event.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && !options.enableSSH {
		return nil, errors.New("no services enabled")
	}
	if deps.Terminals == nil {
		return nil, errors.New("terminal manager dependency is required")
	}
	if cfg.Version == "" {
		cfg.Version = version.Current()
	}

	serviceDeps := deps.ServiceDeps

	var bus *eventbus.Bus
	if options.enableHTTP {
		bus = eventbus.New(serviceDeps.Logger)
		if serviceDeps.Events == nil {
			serviceDeps.Events = bus
		} else {
			serviceDeps.Events = eventFanout{sinks: []core.EventSink{serviceDeps.Events, bus}}
		}
	}

	service, err := core.NewService(cfg.Service, serviceDeps)
	if err != nil {
		return nil, err
	}

	var httpSrv *httpapi.Server
	if options.enableHTTP {
		httpSrv = httpapi.NewServer(cfg.HTTP, service, deps.Terminals, bus, cfg.Version)
	}

	var sshSrv *sshserver.Server
	if options.enableSSH {
		sshSrv = &sshserver.Server{
			Addr:               cfg.SSH.Addr,
			HostKeyPath:        cfg.SSH.HostKeyPath,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeysPath,
			Terminals:          deps.Terminals,
		}
	}

	return &compositeServer{
		cfg:         cfg,
		options:     options,
		httpSrv:     httpSrv,
		sshSrv:      sshSrv,
		terminals:   deps.Terminals,
		transcripts: serviceDeps.Transcripts,
		events:      serviceDeps.Events,
	}, nil
}

type compositeServer struct {
	cfg         ServerConfig
	options     serverOptions
	httpSrv     *httpapi.Server
	sshSrv      *sshserver.Server
	terminals   *terminal.Manager
	transcripts *transcript.Reader
	events      core.EventSink
	logger      pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 2)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"version", s.cfg.Version,
		"http", s.options.enableHTTP,
		"ssh", s.options.enableSSH,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"ssh_addr", s.cfg.SSH.Addr,
	)
	if s.options.enableHTTP && s.httpSrv != nil {
		go func() {
			if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.options.enableSSH && s.sshSrv != nil {
		go func() {
			if err := s.sshSrv.ListenAndServe(s.ctx); err != nil {
				log.Error("ssh server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	// External sessions change under the CLI's own directory; a watch
	// there keeps dashboard listings live without polling.
	if s.transcripts != nil && s.events != nil {
		if err := s.transcripts.Watch(s.ctx, func() {
			s.events.Publish(schema.ServerEvent{Type: schema.ServerEventSessionUpdated})
		}); err != nil {
			log.Warn("transcript watch unavailable", "err", err)
		}
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if s.terminals != nil {
		s.terminals.CloseAll()
		log.Info("server terminals closed")
	}
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}
