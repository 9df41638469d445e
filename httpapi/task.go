package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

type taskPayload struct {
	Task             string `json:"task"`
	SessionID        string `json:"sessionId,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	Model            string `json:"model,omitempty"`
}

type taskResult struct {
	SessionID  schema.SessionID  `json:"sessionId"`
	Response   string            `json:"response"`
	ToolCalls  []schema.ToolCall `json:"toolCalls"`
	StopReason string            `json:"stopReason,omitempty"`
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := pslog.Ctx(r.Context())
	var payload taskPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http task decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !apiKeyPresent() {
		log.Warn("http task rejected", "reason", "api key missing")
		writeError(w, http.StatusServiceUnavailable, schema.ErrAPIKeyMissing)
		return
	}
	resp, err := s.service.ExecuteTask(r.Context(), schema.TaskRequest{
		Task:             payload.Task,
		SessionID:        schema.SessionID(payload.SessionID),
		WorkingDirectory: payload.WorkingDirectory,
		Model:            schema.ModelID(payload.Model),
	})
	if err != nil {
		log.Warn("http task failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	toolCalls := resp.ToolCalls
	if toolCalls == nil {
		toolCalls = []schema.ToolCall{}
	}
	writeJSON(w, http.StatusOK, taskResult{
		SessionID:  resp.SessionID,
		Response:   resp.Response,
		ToolCalls:  toolCalls,
		StopReason: resp.StopReason,
	})
	log.Info("http task ok", "session_id", resp.SessionID, "tool_calls", len(resp.ToolCalls))
}

// handleTaskStream runs a task and relays its events as SSE frames.
// Failures before the first frame are plain JSON errors; anything after
// arrives in-band as an error event, since the status line is gone.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := pslog.Ctx(r.Context())
	var payload taskPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http stream decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.Task) == "" {
		log.Warn("http stream rejected", "reason", "empty task")
		writeError(w, http.StatusBadRequest, schema.ErrEmptyTask)
		return
	}
	if payload.SessionID != "" {
		if err := schema.ValidateSessionID(schema.SessionID(payload.SessionID)); err != nil {
			log.Warn("http stream rejected", "reason", "invalid session id")
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if !apiKeyPresent() {
		log.Warn("http stream rejected", "reason", "api key missing")
		writeError(w, http.StatusServiceUnavailable, schema.ErrAPIKeyMissing)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var seq uint64
	err := s.service.StreamTask(r.Context(), schema.TaskRequest{
		Task:             payload.Task,
		SessionID:        schema.SessionID(payload.SessionID),
		WorkingDirectory: payload.WorkingDirectory,
		Model:            schema.ModelID(payload.Model),
	}, func(event schema.TaskEvent) error {
		seq++
		if err := writeTaskEvent(w, seq, event); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		seq++
		_ = writeTaskEvent(w, seq, schema.TaskEvent{
			Type:  schema.TaskEventError,
			Error: &schema.ErrorEvent{Message: err.Error()},
		})
		flusher.Flush()
		log.Warn("http stream failed", "err", err, "events", seq)
		return
	}
	log.Info("http stream ok", "events", seq)
}

// writeTaskEvent encodes one frame as data: {"type": ..., "data": ...}.
func writeTaskEvent(w io.Writer, seq uint64, event schema.TaskEvent) error {
	frame := struct {
		Type schema.TaskEventType `json:"type"`
		Data any                  `json:"data,omitempty"`
	}{Type: event.Type, Data: event.Payload()}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// apiKeyPresent is checked per request so a key exported after startup
// takes effect without a restart.
func apiKeyPresent() bool {
	return strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")) != ""
}
