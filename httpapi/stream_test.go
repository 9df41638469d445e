package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stomrex77/claude-web/core"
	"github.com/stomrex77/claude-web/internal/eventbus"
	"github.com/stomrex77/claude-web/schema"
)

type sseFrame struct {
	id   string
	data string
}

func readSSEFrame(t *testing.T, reader *bufio.Reader) sseFrame {
	t.Helper()
	var frame sseFrame
	var dataLines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(dataLines) == 0 {
				continue
			}
			break
		}
		if strings.HasPrefix(line, "id:") {
			frame.id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	frame.data = strings.Join(dataLines, "\n")
	return frame
}

type taskFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func decodeTaskFrame(t *testing.T, frame sseFrame) taskFrame {
	t.Helper()
	var decoded taskFrame
	if err := json.Unmarshal([]byte(frame.data), &decoded); err != nil {
		t.Fatalf("decode frame %q: %v", frame.data, err)
	}
	return decoded
}

func TestTaskStreamEmitsFrames(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	svc := &fakeService{
		streamTask: func(_ context.Context, req schema.TaskRequest, emit core.EmitFunc) error {
			if req.Task != "say hi" {
				t.Errorf("unexpected task: %q", req.Task)
			}
			if err := emit(schema.TaskEvent{Type: schema.TaskEventConnected, Connected: &schema.ConnectedEvent{SessionID: "sess-9"}}); err != nil {
				return err
			}
			if err := emit(schema.TaskEvent{Type: schema.TaskEventToken, Token: &schema.TokenEvent{Text: "Hi"}}); err != nil {
				return err
			}
			return emit(schema.TaskEvent{Type: schema.TaskEventComplete, Complete: &schema.CompleteEvent{
				SessionID:  "sess-9",
				StopReason: "end_turn",
				Usage:      schema.TokenUsage{Input: 8, Output: 2},
			}})
		},
	}
	server := newAPIServer(t, svc)

	resp := postJSON(t, server.URL+"/api/agent/stream", map[string]any{"task": "say hi"})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	frame := readSSEFrame(t, reader)
	if frame.id != "1" {
		t.Fatalf("first frame id = %q", frame.id)
	}
	decoded := decodeTaskFrame(t, frame)
	if decoded.Type != "connected" || !strings.Contains(string(decoded.Data), "sess-9") {
		t.Fatalf("unexpected first frame: %+v", decoded)
	}

	decoded = decodeTaskFrame(t, readSSEFrame(t, reader))
	if decoded.Type != "token" || !strings.Contains(string(decoded.Data), "Hi") {
		t.Fatalf("unexpected token frame: %+v", decoded)
	}

	frame = readSSEFrame(t, reader)
	if frame.id != "3" {
		t.Fatalf("last frame id = %q", frame.id)
	}
	decoded = decodeTaskFrame(t, frame)
	if decoded.Type != "complete" || !strings.Contains(string(decoded.Data), `"end_turn"`) {
		t.Fatalf("unexpected complete frame: %+v", decoded)
	}
}

func TestTaskStreamUpstreamFailureGoesInBand(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	svc := &fakeService{
		streamTask: func(_ context.Context, _ schema.TaskRequest, emit core.EmitFunc) error {
			if err := emit(schema.TaskEvent{Type: schema.TaskEventConnected, Connected: &schema.ConnectedEvent{SessionID: "sess-9"}}); err != nil {
				return err
			}
			return errors.New("agent process spawn failed")
		},
	}
	server := newAPIServer(t, svc)

	resp := postJSON(t, server.URL+"/api/agent/stream", map[string]any{"task": "hi"})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	reader := bufio.NewReader(resp.Body)

	decoded := decodeTaskFrame(t, readSSEFrame(t, reader))
	if decoded.Type != "connected" {
		t.Fatalf("unexpected first frame: %+v", decoded)
	}
	decoded = decodeTaskFrame(t, readSSEFrame(t, reader))
	if decoded.Type != "error" || !strings.Contains(string(decoded.Data), "spawn failed") {
		t.Fatalf("unexpected error frame: %+v", decoded)
	}
}

func TestTaskStreamValidationFailsBeforeSSE(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	server := newAPIServer(t, &fakeService{})

	resp := postJSON(t, server.URL+"/api/agent/stream", map[string]any{"task": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	if msg := readErrorBody(t, resp); !strings.Contains(msg, "empty task") {
		t.Fatalf("unexpected error: %q", msg)
	}
}

func TestTaskStreamWithoutAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	server := newAPIServer(t, &fakeService{})

	resp := postJSON(t, server.URL+"/api/agent/stream", map[string]any{"task": "hi"})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestEventsFeedReplaysFromLastEventID(t *testing.T) {
	bus := eventbus.New(nil)
	server := httptest.NewServer(NewServer(Config{}, &fakeService{}, nil, bus, "v1").Handler())
	t.Cleanup(server.Close)

	bus.Publish(schema.ServerEvent{Type: schema.ServerEventTaskStarted, SessionID: "sess-1"})
	bus.Publish(schema.ServerEvent{Type: schema.ServerEventTaskCompleted, SessionID: "sess-1"})

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/agent/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Last-Event-ID", "1")
	resp, err := httpClient().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	reader := bufio.NewReader(resp.Body)

	// The first publish is skipped; replay starts after id 1.
	frame := readSSEFrame(t, reader)
	if frame.id != "2" {
		t.Fatalf("replay frame id = %q", frame.id)
	}
	var event schema.ServerEvent
	if err := json.Unmarshal([]byte(frame.data), &event); err != nil {
		t.Fatalf("decode %q: %v", frame.data, err)
	}
	if event.Type != schema.ServerEventTaskCompleted {
		t.Fatalf("unexpected replay event: %+v", event)
	}

	// Live events keep flowing on the same stream.
	bus.Publish(schema.ServerEvent{Type: schema.ServerEventSessionRemoved, SessionID: "sess-1"})
	frame = readSSEFrame(t, reader)
	if frame.id != "3" {
		t.Fatalf("live frame id = %q", frame.id)
	}
	if err := json.Unmarshal([]byte(frame.data), &event); err != nil {
		t.Fatalf("decode %q: %v", frame.data, err)
	}
	if event.Type != schema.ServerEventSessionRemoved {
		t.Fatalf("unexpected live event: %+v", event)
	}
}

func TestEventsFeedWithoutBus(t *testing.T) {
	server := newAPIServer(t, &fakeService{})
	resp := getURL(t, server.URL+"/api/agent/events")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
