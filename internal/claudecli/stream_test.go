package claudecli

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stomrex77/claude-web/schema"
)

func TestCombinedStreamEmitsStderr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	stream := newCombinedStream(ctx, stdoutR, stderrR)

	go func() {
		_, _ = fmt.Fprintln(stdoutW, `{"type":"system","subtype":"init","session_id":"sess-1"}`)
		_ = stdoutW.Close()
	}()
	go func() {
		_, _ = fmt.Fprintln(stderrW, "stderr boom")
		_ = stderrW.Close()
	}()

	var sawInit bool
	var sawStderr bool
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("Next: %v", err)
		}
		switch event.Type {
		case schema.AgentEventSystem:
			if event.SessionID == "sess-1" {
				sawInit = true
			}
		case schema.AgentEventError:
			if event.Error != nil && event.Error.Message == "stderr boom" {
				sawStderr = true
			}
		}
	}
	if !sawInit || !sawStderr {
		t.Fatalf("expected init and stderr events (init=%t stderr=%t)", sawInit, sawStderr)
	}
}

func TestCombinedStreamEmitsInvalidJSON(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	stream := newCombinedStream(ctx, stdoutR, stderrR)

	go func() {
		_, _ = fmt.Fprintln(stdoutW, "not json")
		_, _ = fmt.Fprintln(stdoutW, `{"type":"system","subtype":"init","session_id":"sess-2"}`)
		_ = stdoutW.Close()
	}()
	go func() {
		_ = stderrW.Close()
	}()

	var sawInvalid bool
	var sawInit bool
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("Next: %v", err)
		}
		switch event.Type {
		case schema.AgentEventError:
			if event.Error != nil && event.Error.Message == "not json" {
				sawInvalid = true
			}
		case schema.AgentEventSystem:
			if event.SessionID == "sess-2" {
				sawInit = true
			}
		}
	}

	if !sawInvalid || !sawInit {
		t.Fatalf("expected invalid json and init events (invalid=%t init=%t)", sawInvalid, sawInit)
	}
}
