// Package agentloop runs agent tasks in process against the messages
// API instead of shelling out to the claude binary. It emits the same
// stream-json event shapes, so everything downstream treats both
// engines alike.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stomrex77/claude-web/core"
	"github.com/stomrex77/claude-web/internal/anthropic"
	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

const (
	defaultModel       = "claude-sonnet-4-5"
	defaultMaxTokens   = 8192
	defaultMaxTurns    = 50
	defaultBashTimeout = 30 * time.Second
)

const basePrompt = "You are a coding agent. Use the tools to inspect files, " +
	"edit them and run shell commands. Keep going until the task is complete, " +
	"then reply with a short summary of what you did."

// messagesAPI is what the loop needs from the anthropic client.
type messagesAPI interface {
	Messages(ctx context.Context, req anthropic.MessagesRequest) (*anthropic.MessagesResponse, error)
}

// Config tunes the loop. Zero values fall back to defaults.
type Config struct {
	Model     string
	MaxTokens int
	// MaxTurns bounds tool-use rounds per task.
	MaxTurns    int
	BashTimeout time.Duration
}

// Engine implements core.Runner with an in-process tool loop.
// Conversation history is kept per session so --resume style follow-ups
// work without the CLI's transcript files.
type Engine struct {
	cfg   Config
	api   messagesAPI
	tools *toolset
	log   pslog.Logger

	mu      sync.Mutex
	history map[schema.SessionID][]anthropic.Message
}

// NewEngine builds the loop around a messages API client.
func NewEngine(client *anthropic.Client, cfg Config, logger pslog.Logger) *Engine {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.BashTimeout <= 0 {
		cfg.BashTimeout = defaultBashTimeout
	}
	return &Engine{
		cfg:     cfg,
		api:     client,
		tools:   &toolset{bashTimeout: cfg.BashTimeout},
		log:     logger,
		history: make(map[schema.SessionID][]anthropic.Message),
	}
}

// Run starts the loop in a goroutine and returns immediately. Closing
// the handle cancels the loop.
func (e *Engine) Run(ctx context.Context, req core.RunRequest) (core.RunHandle, error) {
	if req.Prompt == "" {
		return nil, schema.ErrEmptyTask
	}
	model := string(req.Model)
	if model == "" {
		model = e.cfg.Model
	}
	sessionID := req.ResumeSessionID
	if sessionID == "" {
		sessionID = schema.SessionID(uuid.NewString())
	}
	messages := append(e.snapshotHistory(sessionID), anthropic.Message{
		Role:    "user",
		Content: anthropic.TextContent(req.Prompt),
	})

	runCtx, cancel := context.WithCancel(ctx)
	h := &runHandle{
		stream: &loopStream{events: make(chan schema.AgentEvent, 64)},
		done:   make(chan struct{}),
		cancel: cancel,
	}
	e.log.Info("agent loop start",
		"session_id", sessionID,
		"workdir", req.WorkingDir,
		"model", model,
		"resume", req.ResumeSessionID != "",
		"prompt_len", len(req.Prompt),
	)
	go e.run(runCtx, h, sessionID, model, req.WorkingDir, messages)
	return h, nil
}

func (e *Engine) run(ctx context.Context, h *runHandle, sessionID schema.SessionID, model, workdir string, messages []anthropic.Message) {
	defer close(h.done)
	defer close(h.stream.events)

	emit := func(ev schema.AgentEvent) bool {
		select {
		case h.stream.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(subtype string, err error) {
		h.err = err
		h.result = core.RunResult{ExitCode: 1}
		e.saveHistory(sessionID, messages)
		e.log.Warn("agent loop failed", "session_id", sessionID, "subtype", subtype, "err", err)
		emit(schema.AgentEvent{
			Type:      schema.AgentEventResult,
			Subtype:   subtype,
			SessionID: sessionID,
			IsError:   true,
			Result:    err.Error(),
		})
	}

	if !emit(schema.AgentEvent{Type: schema.AgentEventSystem, Subtype: "init", SessionID: sessionID, Model: model}) {
		h.err = ctx.Err()
		return
	}

	var usage schema.AgentUsage
	finalText := ""
	started := time.Now()
	for turn := 0; ; turn++ {
		if turn >= e.cfg.MaxTurns {
			fail("error_max_turns", fmt.Errorf("agent exceeded %d turns", e.cfg.MaxTurns))
			return
		}
		resp, err := e.api.Messages(ctx, anthropic.MessagesRequest{
			Model:     model,
			MaxTokens: e.cfg.MaxTokens,
			System:    systemPrompt(workdir),
			Messages:  messages,
			Tools:     e.tools.definitions(),
		})
		if err != nil {
			fail("error_during_execution", err)
			return
		}
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens
		usage.CacheCreationInputTokens += resp.Usage.CacheCreationInputTokens
		usage.CacheReadInputTokens += resp.Usage.CacheReadInputTokens

		messages = append(messages, anthropic.Message{Role: "assistant", Content: resp.Content})
		if text := textOf(resp.Content); text != "" {
			finalText = text
		}
		if !emit(schema.AgentEvent{
			Type:      schema.AgentEventAssistant,
			SessionID: sessionID,
			Message: &schema.MessageBody{
				ID:         resp.ID,
				Role:       "assistant",
				Model:      resp.Model,
				StopReason: resp.StopReason,
				Content:    resp.Content,
				Usage:      &resp.Usage,
			},
		}) {
			h.err = ctx.Err()
			return
		}
		if resp.StopReason != "tool_use" {
			break
		}

		results := e.runTools(ctx, workdir, resp.Content)
		if ctx.Err() != nil {
			h.err = ctx.Err()
			return
		}
		messages = append(messages, anthropic.Message{Role: "user", Content: results})
		if !emit(schema.AgentEvent{
			Type:      schema.AgentEventUser,
			SessionID: sessionID,
			Message:   &schema.MessageBody{Role: "user", Content: results},
		}) {
			h.err = ctx.Err()
			return
		}
	}

	e.saveHistory(sessionID, messages)
	h.result = core.RunResult{ExitCode: 0}
	e.log.Info("agent loop finished",
		"session_id", sessionID,
		"input_tokens", usage.TotalInput(),
		"output_tokens", usage.OutputTokens,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	emit(schema.AgentEvent{
		Type:      schema.AgentEventResult,
		Subtype:   "success",
		SessionID: sessionID,
		Result:    finalText,
		Usage:     &usage,
	})
}

func (e *Engine) runTools(ctx context.Context, workdir string, blocks []schema.ContentBlock) []schema.ContentBlock {
	var results []schema.ContentBlock
	for _, block := range blocks {
		if block.Type != "tool_use" {
			continue
		}
		if ctx.Err() != nil {
			return results
		}
		output, err := e.tools.execute(ctx, workdir, block.Name, block.Input)
		text := output
		if err != nil {
			if text != "" {
				text += "\n"
			}
			text += err.Error()
		}
		raw, _ := json.Marshal(text)
		results = append(results, schema.ContentBlock{
			Type:      "tool_result",
			ToolUseID: block.ID,
			Content:   raw,
			IsError:   err != nil,
		})
		e.log.Debug("tool executed",
			"tool", block.Name,
			"failed", err != nil,
			"output_len", len(output),
		)
	}
	return results
}

func (e *Engine) snapshotHistory(id schema.SessionID) []anthropic.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	prior := e.history[id]
	out := make([]anthropic.Message, len(prior), len(prior)+1)
	copy(out, prior)
	return out
}

func (e *Engine) saveHistory(id schema.SessionID, messages []anthropic.Message) {
	e.mu.Lock()
	e.history[id] = messages
	e.mu.Unlock()
}

func systemPrompt(workdir string) string {
	if workdir == "" {
		return basePrompt
	}
	return basePrompt + "\nWorking directory: " + workdir
}

func textOf(blocks []schema.ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type runHandle struct {
	stream *loopStream
	done   chan struct{}
	cancel context.CancelFunc
	result core.RunResult
	err    error
}

func (h *runHandle) Events() core.EventStream {
	return h.stream
}

func (h *runHandle) Wait(ctx context.Context) (core.RunResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return core.RunResult{}, ctx.Err()
	}
}

func (h *runHandle) Close() error {
	h.cancel()
	return nil
}

type loopStream struct {
	events chan schema.AgentEvent
}

func (s *loopStream) Next(ctx context.Context) (schema.AgentEvent, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return schema.AgentEvent{}, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return schema.AgentEvent{}, ctx.Err()
	}
}

func (s *loopStream) Close() error {
	return nil
}
