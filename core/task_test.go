package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stomrex77/claude-web/internal/eventbus"
	"github.com/stomrex77/claude-web/internal/sessionstore"
	"github.com/stomrex77/claude-web/schema"
)

type fakeStream struct {
	events []schema.AgentEvent
	pos    int
}

func (s *fakeStream) Next(ctx context.Context) (schema.AgentEvent, error) {
	if err := ctx.Err(); err != nil {
		return schema.AgentEvent{}, err
	}
	if s.pos >= len(s.events) {
		return schema.AgentEvent{}, io.EOF
	}
	event := s.events[s.pos]
	s.pos++
	return event, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeHandle struct {
	stream  *fakeStream
	result  RunResult
	waitErr error
	closed  bool
}

func (h *fakeHandle) Events() EventStream { return h.stream }

func (h *fakeHandle) Wait(ctx context.Context) (RunResult, error) { return h.result, h.waitErr }

func (h *fakeHandle) Close() error {
	h.closed = true
	return nil
}

type fakeRunner struct {
	mu     sync.Mutex
	reqs   []RunRequest
	handle *fakeHandle
	err    error
}

func (r *fakeRunner) Run(ctx context.Context, req RunRequest) (RunHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return nil, r.err
	}
	return r.handle, nil
}

func (r *fakeRunner) lastRequest(t *testing.T) RunRequest {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reqs) == 0 {
		t.Fatalf("runner was never invoked")
	}
	return r.reqs[len(r.reqs)-1]
}

func initEvent(id schema.SessionID) schema.AgentEvent {
	return schema.AgentEvent{Type: schema.AgentEventSystem, Subtype: "init", SessionID: id}
}

func assistantEvent(stopReason string, blocks ...schema.ContentBlock) schema.AgentEvent {
	return schema.AgentEvent{
		Type: schema.AgentEventAssistant,
		Message: &schema.MessageBody{
			Role:       "assistant",
			StopReason: stopReason,
			Content:    blocks,
		},
	}
}

func textBlock(text string) schema.ContentBlock {
	return schema.ContentBlock{Type: "text", Text: text}
}

func toolUseBlock(id, name, input string) schema.ContentBlock {
	return schema.ContentBlock{Type: "tool_use", ID: id, Name: name, Input: json.RawMessage(input)}
}

func toolResultEvent(toolUseID, content string, isError bool) schema.AgentEvent {
	raw, _ := json.Marshal(content)
	return schema.AgentEvent{
		Type: schema.AgentEventUser,
		Message: &schema.MessageBody{
			Role:    "user",
			Content: []schema.ContentBlock{{Type: "tool_result", ToolUseID: toolUseID, Content: raw, IsError: isError}},
		},
	}
}

func deltaEvent(text string) schema.AgentEvent {
	return schema.AgentEvent{
		Type: schema.AgentEventStream,
		Event: &schema.StreamDelta{
			Type:  "content_block_delta",
			Delta: &schema.DeltaBody{Type: "text_delta", Text: text},
		},
	}
}

func resultEvent(text string, usage schema.AgentUsage, costUSD float64) schema.AgentEvent {
	return schema.AgentEvent{
		Type:    schema.AgentEventResult,
		Subtype: "success",
		Result:  text,
		Usage:   &usage,
		CostUSD: costUSD,
	}
}

func newTaskService(t *testing.T, runner Runner, bus *eventbus.Bus) (Service, *sessionstore.Store) {
	t.Helper()
	store, err := sessionstore.New(filepath.Join(t.TempDir(), "state.json"), 0, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	svc, err := NewService(schema.ServiceConfig{
		StateDir:         t.TempDir(),
		DefaultDirectory: t.TempDir(),
		DefaultModel:     "claude-sonnet-4-5",
	}, ServiceDeps{Runner: runner, Store: store, Events: bus})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func TestExecuteTaskCollectsResponse(t *testing.T) {
	usage := schema.AgentUsage{InputTokens: 10, CacheReadInputTokens: 5, OutputTokens: 7}
	handle := &fakeHandle{stream: &fakeStream{events: []schema.AgentEvent{
		initEvent("sess-1"),
		assistantEvent("tool_use", textBlock("Listing files."), toolUseBlock("toolu_1", "bash", `{"command":"ls"}`)),
		toolResultEvent("toolu_1", "README.md", false),
		assistantEvent("end_turn", textBlock("Done.")),
		resultEvent("All files listed.", usage, 0.02),
	}}}
	runner := &fakeRunner{handle: handle}
	svc, store := newTaskService(t, runner, nil)

	resp, err := svc.ExecuteTask(context.Background(), schema.TaskRequest{Task: "list files"})
	if err != nil {
		t.Fatalf("execute task: %v", err)
	}
	if resp.SessionID != "sess-1" {
		t.Fatalf("session id = %q, want sess-1", resp.SessionID)
	}
	if resp.Response != "All files listed." {
		t.Fatalf("response = %q", resp.Response)
	}
	if resp.StopReason != "end_turn" {
		t.Fatalf("stop reason = %q", resp.StopReason)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "toolu_1" || call.Name != "bash" {
		t.Fatalf("tool call = %+v", call)
	}
	if call.Result != "README.md" {
		t.Fatalf("tool result = %q, want README.md", call.Result)
	}
	if !handle.closed {
		t.Fatalf("handle was not closed")
	}

	session, ok := store.Get("sess-1")
	if !ok {
		t.Fatalf("session not recorded")
	}
	if session.Tokens.Input != 15 || session.Tokens.Output != 7 {
		t.Fatalf("tokens = %+v, want 15/7", session.Tokens)
	}
	if session.CostUSD != 0.02 {
		t.Fatalf("cost = %v, want 0.02", session.CostUSD)
	}
	if session.Title != "list files" {
		t.Fatalf("title = %q", session.Title)
	}
}

func TestExecuteTaskAppliesDefaults(t *testing.T) {
	handle := &fakeHandle{stream: &fakeStream{events: []schema.AgentEvent{
		initEvent("sess-2"),
		resultEvent("ok", schema.AgentUsage{}, 0),
	}}}
	runner := &fakeRunner{handle: handle}
	svc, _ := newTaskService(t, runner, nil)

	if _, err := svc.ExecuteTask(context.Background(), schema.TaskRequest{Task: "hello"}); err != nil {
		t.Fatalf("execute task: %v", err)
	}
	req := runner.lastRequest(t)
	if req.WorkingDir == "" {
		t.Fatalf("working dir not defaulted")
	}
	if req.Model != "claude-sonnet-4-5" {
		t.Fatalf("model = %q", req.Model)
	}
	if req.IncludePartial {
		t.Fatalf("blocking execution should not request partial messages")
	}
	if req.Prompt != "hello" {
		t.Fatalf("prompt = %q", req.Prompt)
	}
}

func TestExecuteTaskResumePassesSessionID(t *testing.T) {
	handle := &fakeHandle{stream: &fakeStream{events: []schema.AgentEvent{
		initEvent("abc-123"),
		resultEvent("resumed", schema.AgentUsage{}, 0),
	}}}
	runner := &fakeRunner{handle: handle}
	svc, _ := newTaskService(t, runner, nil)

	resp, err := svc.ExecuteTask(context.Background(), schema.TaskRequest{Task: "continue", SessionID: "abc-123"})
	if err != nil {
		t.Fatalf("execute task: %v", err)
	}
	if got := runner.lastRequest(t).ResumeSessionID; got != "abc-123" {
		t.Fatalf("resume id = %q", got)
	}
	if resp.SessionID != "abc-123" {
		t.Fatalf("session id = %q", resp.SessionID)
	}
}

func TestExecuteTaskRejectsEmptyTask(t *testing.T) {
	svc, _ := newTaskService(t, &fakeRunner{}, nil)
	if _, err := svc.ExecuteTask(context.Background(), schema.TaskRequest{Task: "   "}); !errors.Is(err, schema.ErrEmptyTask) {
		t.Fatalf("err = %v, want ErrEmptyTask", err)
	}
}

func TestExecuteTaskRejectsInvalidSessionID(t *testing.T) {
	svc, _ := newTaskService(t, &fakeRunner{}, nil)
	_, err := svc.ExecuteTask(context.Background(), schema.TaskRequest{Task: "hi", SessionID: "../etc"})
	if !errors.Is(err, schema.ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
}

func TestExecuteTaskWithoutRunner(t *testing.T) {
	svc, _ := newTaskService(t, nil, nil)
	if _, err := svc.ExecuteTask(context.Background(), schema.TaskRequest{Task: "hi"}); !errors.Is(err, schema.ErrAgentUnavailable) {
		t.Fatalf("err = %v, want ErrAgentUnavailable", err)
	}
}

func TestExecuteTaskSpawnErrorPropagates(t *testing.T) {
	spawnErr := errors.New("claude binary not found")
	svc, _ := newTaskService(t, &fakeRunner{err: spawnErr}, nil)
	if _, err := svc.ExecuteTask(context.Background(), schema.TaskRequest{Task: "hi"}); !errors.Is(err, spawnErr) {
		t.Fatalf("err = %v, want spawn error", err)
	}
}

func TestExecuteTaskResultErrorPropagates(t *testing.T) {
	usage := schema.AgentUsage{InputTokens: 3, OutputTokens: 1}
	handle := &fakeHandle{stream: &fakeStream{events: []schema.AgentEvent{
		initEvent("sess-err"),
		{
			Type:    schema.AgentEventResult,
			Subtype: "error_during_execution",
			IsError: true,
			Result:  "credit balance too low",
			Usage:   &usage,
		},
	}}}
	svc, store := newTaskService(t, &fakeRunner{handle: handle}, nil)

	_, err := svc.ExecuteTask(context.Background(), schema.TaskRequest{Task: "hi"})
	if err == nil || !strings.Contains(err.Error(), "credit balance too low") {
		t.Fatalf("err = %v, want upstream message", err)
	}
	// Failed turns still burned tokens.
	session, ok := store.Get("sess-err")
	if !ok {
		t.Fatalf("session not recorded")
	}
	if session.Tokens.Input != 3 || session.Tokens.Output != 1 {
		t.Fatalf("tokens = %+v", session.Tokens)
	}
}

func TestExecuteTaskStreamEndsWithoutResult(t *testing.T) {
	handle := &fakeHandle{
		stream: &fakeStream{events: []schema.AgentEvent{
			initEvent("sess-3"),
			assistantEvent("", textBlock("partial")),
		}},
		result: RunResult{ExitCode: 1},
	}
	svc, _ := newTaskService(t, &fakeRunner{handle: handle}, nil)

	_, err := svc.ExecuteTask(context.Background(), schema.TaskRequest{Task: "hi"})
	if err == nil || !strings.Contains(err.Error(), "exited with code 1") {
		t.Fatalf("err = %v, want exit code message", err)
	}
}

func TestExecuteTaskStderrNoiseIsNotFatal(t *testing.T) {
	handle := &fakeHandle{stream: &fakeStream{events: []schema.AgentEvent{
		initEvent("sess-4"),
		{Type: schema.AgentEventError, Error: &schema.ErrorEvent{Message: "some deprecation warning"}},
		resultEvent("fine", schema.AgentUsage{}, 0),
	}}}
	svc, _ := newTaskService(t, &fakeRunner{handle: handle}, nil)

	resp, err := svc.ExecuteTask(context.Background(), schema.TaskRequest{Task: "hi"})
	if err != nil {
		t.Fatalf("execute task: %v", err)
	}
	if resp.Response != "fine" {
		t.Fatalf("response = %q", resp.Response)
	}
}

func collectStream(t *testing.T, svc Service, req schema.TaskRequest) []schema.TaskEvent {
	t.Helper()
	var events []schema.TaskEvent
	err := svc.StreamTask(context.Background(), req, func(event schema.TaskEvent) error {
		events = append(events, event)
		return nil
	})
	if err != nil {
		t.Fatalf("stream task: %v", err)
	}
	return events
}

func eventTypes(events []schema.TaskEvent) []schema.TaskEventType {
	types := make([]schema.TaskEventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}

func TestStreamTaskEmitsDeltaTokens(t *testing.T) {
	usage := schema.AgentUsage{InputTokens: 8, OutputTokens: 2}
	handle := &fakeHandle{stream: &fakeStream{events: []schema.AgentEvent{
		initEvent("sess-5"),
		deltaEvent("Hel"),
		deltaEvent("lo"),
		assistantEvent("end_turn", textBlock("Hello")),
		resultEvent("Hello", usage, 0.001),
	}}}
	runner := &fakeRunner{handle: handle}
	svc, _ := newTaskService(t, runner, nil)

	events := collectStream(t, svc, schema.TaskRequest{Task: "greet"})
	want := []schema.TaskEventType{
		schema.TaskEventConnected,
		schema.TaskEventToken,
		schema.TaskEventToken,
		schema.TaskEventComplete,
	}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if events[1].Token.Text != "Hel" || events[2].Token.Text != "lo" {
		t.Fatalf("tokens = %q %q", events[1].Token.Text, events[2].Token.Text)
	}
	complete := events[len(events)-1].Complete
	if complete == nil {
		t.Fatalf("missing complete payload")
	}
	if complete.SessionID != "sess-5" || complete.StopReason != "end_turn" {
		t.Fatalf("complete = %+v", complete)
	}
	if complete.Usage.Input != 8 || complete.Usage.Output != 2 {
		t.Fatalf("usage = %+v", complete.Usage)
	}
	if !runner.lastRequest(t).IncludePartial {
		t.Fatalf("streaming should request partial messages")
	}
}

func TestStreamTaskFallsBackToFullText(t *testing.T) {
	handle := &fakeHandle{stream: &fakeStream{events: []schema.AgentEvent{
		initEvent("sess-6"),
		assistantEvent("end_turn", textBlock("Hi there.")),
		resultEvent("Hi there.", schema.AgentUsage{}, 0),
	}}}
	svc, _ := newTaskService(t, &fakeRunner{handle: handle}, nil)

	events := collectStream(t, svc, schema.TaskRequest{Task: "greet"})
	if len(events) != 3 {
		t.Fatalf("events = %v", eventTypes(events))
	}
	if events[1].Type != schema.TaskEventToken || events[1].Token.Text != "Hi there." {
		t.Fatalf("fallback token = %+v", events[1])
	}
}

func TestStreamTaskEmitsToolEvents(t *testing.T) {
	handle := &fakeHandle{stream: &fakeStream{events: []schema.AgentEvent{
		initEvent("sess-7"),
		assistantEvent("tool_use", toolUseBlock("toolu_9", "str_replace_editor", `{"command":"view","path":"go.mod"}`)),
		toolResultEvent("toolu_9", "module demo", false),
		assistantEvent("end_turn", textBlock("Read it.")),
		resultEvent("Read it.", schema.AgentUsage{}, 0),
	}}}
	svc, _ := newTaskService(t, &fakeRunner{handle: handle}, nil)

	events := collectStream(t, svc, schema.TaskRequest{Task: "read go.mod"})
	var sawUse, sawResult bool
	for _, event := range events {
		switch event.Type {
		case schema.TaskEventToolUse:
			sawUse = true
			if event.ToolUse.ID != "toolu_9" || event.ToolUse.Name != "str_replace_editor" {
				t.Fatalf("tool use = %+v", event.ToolUse)
			}
		case schema.TaskEventToolResult:
			sawResult = true
			if event.ToolResult.ToolUseID != "toolu_9" || event.ToolResult.Content != "module demo" {
				t.Fatalf("tool result = %+v", event.ToolResult)
			}
		}
	}
	if !sawUse || !sawResult {
		t.Fatalf("missing tool events: %v", eventTypes(events))
	}
}

func TestStreamTaskUpstreamErrorGoesInBand(t *testing.T) {
	handle := &fakeHandle{stream: &fakeStream{events: []schema.AgentEvent{
		initEvent("sess-8"),
		{Type: schema.AgentEventResult, IsError: true, Result: "model overloaded"},
	}}}
	svc, _ := newTaskService(t, &fakeRunner{handle: handle}, nil)

	var events []schema.TaskEvent
	err := svc.StreamTask(context.Background(), schema.TaskRequest{Task: "hi"}, func(event schema.TaskEvent) error {
		events = append(events, event)
		return nil
	})
	if err != nil {
		t.Fatalf("stream task: %v", err)
	}
	last := events[len(events)-1]
	if last.Type != schema.TaskEventError {
		t.Fatalf("last event = %v, want error", last.Type)
	}
	if last.Error.Message != "model overloaded" {
		t.Fatalf("error message = %q", last.Error.Message)
	}
	for _, event := range events {
		if event.Type == schema.TaskEventComplete {
			t.Fatalf("failed stream must not emit complete")
		}
	}
}

func TestStreamTaskValidationFailsBeforeEvents(t *testing.T) {
	svc, _ := newTaskService(t, &fakeRunner{}, nil)
	err := svc.StreamTask(context.Background(), schema.TaskRequest{Task: ""}, func(event schema.TaskEvent) error {
		t.Fatalf("unexpected event %v", event.Type)
		return nil
	})
	if !errors.Is(err, schema.ErrEmptyTask) {
		t.Fatalf("err = %v, want ErrEmptyTask", err)
	}
}

func TestStreamTaskEmitFailureAborts(t *testing.T) {
	handle := &fakeHandle{stream: &fakeStream{events: []schema.AgentEvent{
		initEvent("sess-9"),
		deltaEvent("a"),
		deltaEvent("b"),
		resultEvent("ab", schema.AgentUsage{}, 0),
	}}}
	svc, _ := newTaskService(t, &fakeRunner{handle: handle}, nil)

	clientGone := errors.New("client went away")
	calls := 0
	err := svc.StreamTask(context.Background(), schema.TaskRequest{Task: "hi"}, func(event schema.TaskEvent) error {
		calls++
		if calls == 2 {
			return clientGone
		}
		return nil
	})
	if !errors.Is(err, clientGone) {
		t.Fatalf("err = %v, want emit error", err)
	}
	if calls != 2 {
		t.Fatalf("emit calls = %d, want 2", calls)
	}
	if !handle.closed {
		t.Fatalf("handle was not closed after emit failure")
	}
}

func TestStreamTaskRequiresEmit(t *testing.T) {
	svc, _ := newTaskService(t, &fakeRunner{}, nil)
	if err := svc.StreamTask(context.Background(), schema.TaskRequest{Task: "hi"}, nil); err == nil {
		t.Fatalf("expected error for nil emit")
	}
}

func TestTaskPublishesServerEvents(t *testing.T) {
	bus := eventbus.New(nil)
	handle := &fakeHandle{stream: &fakeStream{events: []schema.AgentEvent{
		initEvent("sess-bus"),
		resultEvent("done", schema.AgentUsage{InputTokens: 1, OutputTokens: 1}, 0),
	}}}
	svc, _ := newTaskService(t, &fakeRunner{handle: handle}, bus)

	if _, err := svc.ExecuteTask(context.Background(), schema.TaskRequest{Task: "hi"}); err != nil {
		t.Fatalf("execute task: %v", err)
	}
	backlog, _, cancel := bus.SubscribeFrom(0)
	defer cancel()

	var types []schema.ServerEventType
	for _, env := range backlog {
		types = append(types, env.Event.Type)
	}
	wantOrder := []schema.ServerEventType{
		schema.ServerEventSessionUpdated,
		schema.ServerEventTaskStarted,
		schema.ServerEventSessionUpdated,
		schema.ServerEventTaskCompleted,
	}
	if len(types) != len(wantOrder) {
		t.Fatalf("published events = %v, want %v", types, wantOrder)
	}
	for i := range wantOrder {
		if types[i] != wantOrder[i] {
			t.Fatalf("event[%d] = %v, want %v", i, types[i], wantOrder[i])
		}
	}
	for _, env := range backlog {
		if env.Event.SessionID != "sess-bus" {
			t.Fatalf("event session = %q", env.Event.SessionID)
		}
		if env.Event.Time == "" {
			t.Fatalf("event missing timestamp")
		}
	}
}
