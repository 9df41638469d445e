package claudecli

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stomrex77/claude-web/schema"
)

func TestDecodeEventPreservesRaw(t *testing.T) {
	line := []byte(`{"type":"system","subtype":"init","session_id":"sess-abc","model":"claude-sonnet-4-5"}`)
	event, err := decodeEvent(line)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if event.Type != schema.AgentEventSystem || event.Subtype != "init" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.SessionID != "sess-abc" {
		t.Fatalf("session id = %q", event.SessionID)
	}
	if len(event.Raw) == 0 {
		t.Fatalf("expected raw event")
	}
}

func TestDecodeAssistantEvent(t *testing.T) {
	line := []byte(`{"type":"assistant","message":{"id":"msg_01","role":"assistant","stop_reason":"tool_use","content":[{"type":"text","text":"let me check"},{"type":"tool_use","id":"toolu_01","name":"Bash","input":{"command":"ls"}}],"usage":{"input_tokens":10,"cache_read_input_tokens":5,"output_tokens":2}}}`)
	event, err := decodeEvent(line)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if event.Type != schema.AgentEventAssistant || event.Message == nil {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Message.StopReason != "tool_use" {
		t.Fatalf("stop reason = %q", event.Message.StopReason)
	}
	if len(event.Message.Content) != 2 || event.Message.Content[1].Name != "Bash" {
		t.Fatalf("unexpected content: %+v", event.Message.Content)
	}
	if event.Message.Usage.TotalInput() != 15 {
		t.Fatalf("total input = %d", event.Message.Usage.TotalInput())
	}
}

func TestJSONLStreamReadsEvents(t *testing.T) {
	data := []byte("\n" +
		`{"type":"system","subtype":"init","session_id":"sess-1"}` + "\n" +
		`{"type":"result","subtype":"success","result":"done","session_id":"sess-1","total_cost_usd":0.003}` + "\n")
	stream := newJSONLStream(bytes.NewReader(data))

	event, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if event.Type != schema.AgentEventSystem || event.SessionID != "sess-1" {
		t.Fatalf("unexpected first event: %+v", event)
	}

	event, err = stream.Next(context.Background())
	if err != nil {
		t.Fatalf("Next(2): %v", err)
	}
	if event.Type != schema.AgentEventResult || event.Result != "done" {
		t.Fatalf("unexpected second event: %+v", event)
	}
	if event.CostUSD != 0.003 {
		t.Fatalf("cost = %f", event.CostUSD)
	}

	_, err = stream.Next(context.Background())
	if err == io.EOF {
		return
	}
	if err == nil {
		t.Fatalf("expected EOF, got nil")
	}
}
