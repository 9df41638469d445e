package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/stomrex77/claude-web/internal/eventbus"
	"pkt.systems/pslog"
)

// handleEvents streams server events over SSE. Reconnecting clients
// send Last-Event-ID and get the bus ring replayed from there.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event feed not configured"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := pslog.Ctx(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	backlog, ch, cancel := s.bus.SubscribeFrom(lastID)
	defer cancel()

	for _, envelope := range backlog {
		_ = writeServerEvent(w, envelope)
	}
	flusher.Flush()

	log.Info("http events opened", "last_id", lastID, "replay", len(backlog))
	for {
		select {
		case <-r.Context().Done():
			log.Info("http events closed")
			return
		case envelope, ok := <-ch:
			if !ok {
				return
			}
			_ = writeServerEvent(w, envelope)
			flusher.Flush()
		}
	}
}

func writeServerEvent(w io.Writer, envelope eventbus.Envelope) error {
	data, err := json.Marshal(envelope.Event)
	if err != nil {
		return err
	}
	if envelope.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", envelope.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
