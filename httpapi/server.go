// Package httpapi serves the JSON API, the SSE feeds and the terminal
// websocket. All handlers are thin: decode, call the core service, map
// the error to a status, encode.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/stomrex77/claude-web/core"
	"github.com/stomrex77/claude-web/internal/eventbus"
	"github.com/stomrex77/claude-web/internal/logx"
	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

// Server serves the HTTP API.
type Server struct {
	cfg       Config
	service   core.Service
	terminals TerminalManager
	bus       *eventbus.Bus
	version   string
	basePath  string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, terminals TerminalManager, bus *eventbus.Bus, version string) *Server {
	return &Server{
		cfg:       cfg,
		service:   service,
		terminals: terminals,
		bus:       bus,
		version:   version,
		basePath:  normalizeBasePath(cfg.BasePath),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/api/files/tree", s.handleFileTree)
	mux.HandleFunc("/api/files/home", s.handleHome)

	mux.HandleFunc("/api/agent/task", s.handleTask)
	mux.HandleFunc("/api/agent/stream", s.handleTaskStream)
	mux.HandleFunc("/api/agent/sessions", s.handleSessions)
	mux.HandleFunc("/api/agent/sessions/", s.handleSessionByID)
	mux.HandleFunc("/api/agent/usage", s.handleUsage)
	mux.HandleFunc("/api/agent/rate-limits", s.handleRateLimits)
	mux.HandleFunc("/api/agent/stats", s.handleStats)
	mux.HandleFunc("/api/agent/events", s.handleEvents)

	mux.HandleFunc("/terminal", s.handleTerminal)

	handler := withRequestLogging(mux)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": s.version})
}

func (s *Server) handleFileTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := pslog.Ctx(r.Context())
	query := r.URL.Query()
	resp, err := s.service.FileTree(r.Context(), schema.FileTreeRequest{
		Path:  query.Get("path"),
		Depth: parseInt(query.Get("depth"), 0),
	})
	if err != nil {
		log.Warn("http files tree failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tree": resp.Tree})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	home, err := os.UserHomeDir()
	if err != nil {
		pslog.Ctx(r.Context()).Warn("http files home failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": home})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := pslog.Ctx(r.Context())
	query := r.URL.Query()
	resp, err := s.service.ListSessions(r.Context(), schema.ListSessionsRequest{
		Page:          parseInt(query.Get("page"), 0),
		Limit:         parseInt(query.Get("limit"), 0),
		IncludeWarmup: parseBool(query.Get("includeWarmup")),
		MinMessages:   parseInt(query.Get("minMessages"), 0),
	})
	if err != nil {
		log.Warn("http sessions list failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	sessions := resp.Sessions
	if sessions == nil {
		sessions = []schema.Session{}
	}
	writeJSON(w, http.StatusOK, sessionListPayload{
		Sessions: sessions,
		Total:    resp.Total,
		Page:     resp.Page,
		Limit:    resp.Limit,
	})
}

// handleSessionByID serves /api/agent/sessions/{id} and its messages
// subresource.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/agent/sessions/"), "/")
	segments := strings.Split(rest, "/")
	if rest == "" || len(segments) > 2 {
		http.NotFound(w, r)
		return
	}
	id := schema.SessionID(segments[0])
	if len(segments) == 2 {
		if segments[1] != "messages" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleSessionMessages(w, r, id)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleSessionDetail(w, r, id)
	case http.MethodDelete:
		s.handleSessionRemove(w, r, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request, id schema.SessionID) {
	log := logx.WithSession(r.Context(), id)
	ctx := logx.ContextWithSessionLogger(r.Context(), log, id)
	resp, err := s.service.GetSession(ctx, schema.GetSessionRequest{SessionID: id})
	if err != nil {
		log.Warn("http session get failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Session)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request, id schema.SessionID) {
	log := logx.WithSession(r.Context(), id)
	ctx := logx.ContextWithSessionLogger(r.Context(), log, id)
	resp, err := s.service.SessionMessages(ctx, schema.SessionMessagesRequest{SessionID: id})
	if err != nil {
		log.Warn("http session messages failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	messages := resp.Messages
	if messages == nil {
		messages = []schema.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleSessionRemove(w http.ResponseWriter, r *http.Request, id schema.SessionID) {
	log := logx.WithSession(r.Context(), id)
	ctx := logx.ContextWithSessionLogger(r.Context(), log, id)
	if _, err := s.service.RemoveSession(ctx, schema.RemoveSessionRequest{SessionID: id}); err != nil {
		log.Warn("http session remove failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
	log.Info("http session remove ok")
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp, err := s.service.TotalUsage(r.Context(), schema.TotalUsageRequest{})
	if err != nil {
		pslog.Ctx(r.Context()).Warn("http usage failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Usage)
}

func (s *Server) handleRateLimits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp, err := s.service.RateLimits(r.Context(), schema.RateLimitsRequest{})
	if err != nil {
		pslog.Ctx(r.Context()).Warn("http rate limits failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Limits)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp, err := s.service.Stats(r.Context(), schema.StatsRequest{})
	if err != nil {
		pslog.Ctx(r.Context()).Warn("http stats failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Stats)
}

type sessionListPayload struct {
	Sessions []schema.Session `json:"sessions"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

// errorStatus maps service errors onto HTTP statuses. Anything
// unrecognized is an upstream failure.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, schema.ErrEmptyTask),
		errors.Is(err, schema.ErrInvalidSession),
		errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, schema.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrSessionNotFound),
		errors.Is(err, schema.ErrTranscriptNotFound),
		errors.Is(err, schema.ErrPathNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrAPIKeyMissing),
		errors.Is(err, schema.ErrAgentUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	if value == "" {
		return false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return parsed
}
