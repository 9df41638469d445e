package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/stomrex77/claude-web/schema"
)

// ExecuteTask runs one agent task to completion and returns the final
// text and tool calls. Hard failures propagate; this is the one path
// that never swallows upstream errors.
func (s *service) ExecuteTask(ctx context.Context, req schema.TaskRequest) (schema.TaskResponse, error) {
	outcome, err := s.runTask(ctx, req, nil)
	if err != nil {
		return schema.TaskResponse{}, err
	}
	if outcome.failed {
		return schema.TaskResponse{}, errors.New(outcome.failText)
	}
	return schema.TaskResponse{
		SessionID:  outcome.sessionID,
		Response:   outcome.response,
		ToolCalls:  outcome.toolCalls,
		StopReason: outcome.stopReason,
	}, nil
}

// StreamTask runs one agent task, emitting normalized events as they
// arrive. Validation, spawn and emit failures return an error;
// upstream agent failures surface as an in-band error event instead,
// so a client that already received events sees the failure on the
// stream it is reading.
func (s *service) StreamTask(ctx context.Context, req schema.TaskRequest, emit EmitFunc) error {
	if emit == nil {
		return errors.New("missing emit callback")
	}
	outcome, err := s.runTask(ctx, req, emit)
	if err != nil {
		return err
	}
	if outcome.failed {
		return emit(schema.TaskEvent{
			Type:  schema.TaskEventError,
			Error: &schema.ErrorEvent{Message: outcome.failText},
		})
	}
	return nil
}

// taskOutcome accumulates the terminal state of one run.
type taskOutcome struct {
	sessionID  schema.SessionID
	response   string
	stopReason string
	toolCalls  []schema.ToolCall
	usage      schema.AgentUsage
	costUSD    float64
	failed     bool
	failText   string
}

func (o *taskOutcome) fail(msg string) {
	if o.failed {
		return
	}
	o.failed = true
	o.failText = msg
}

// runTask starts the runner and drains its event stream, feeding the
// session store and the optional emit callback. The returned error
// covers validation, spawn and emit failures; upstream agent failures
// land in outcome.failed so each caller can shape them for its
// transport.
func (s *service) runTask(ctx context.Context, req schema.TaskRequest, emit EmitFunc) (taskOutcome, error) {
	var outcome taskOutcome
	if ctx == nil {
		return outcome, errors.New("missing context")
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		return outcome, schema.ErrEmptyTask
	}
	if req.SessionID != "" {
		if err := schema.ValidateSessionID(req.SessionID); err != nil {
			return outcome, err
		}
	}
	if s.runner == nil {
		return outcome, schema.ErrAgentUnavailable
	}
	workdir := req.WorkingDirectory
	if workdir == "" {
		workdir = s.cfg.DefaultDirectory
	}
	model := req.Model
	if model == "" {
		model = s.cfg.DefaultModel
	}
	streaming := emit != nil
	log := s.logger
	started := s.now()
	log.Info("service task start",
		"workdir", workdir,
		"model", model,
		"resume", req.SessionID != "",
		"streaming", streaming,
		"task_len", len(task),
	)

	handle, err := s.runner.Run(ctx, RunRequest{
		WorkingDir:      workdir,
		Prompt:          task,
		Model:           model,
		ResumeSessionID: req.SessionID,
		IncludePartial:  streaming,
	})
	if err != nil {
		log.Warn("service task spawn failed", "err", err)
		return outcome, err
	}
	defer func() { _ = handle.Close() }()

	send := func(event schema.TaskEvent) error {
		if emit == nil {
			return nil
		}
		return emit(event)
	}

	stream := handle.Events()
	pending := make(map[string]int)
	var assistantText strings.Builder
	sawDelta := false
	sawResult := false
	lastError := ""
	eventCount := 0

	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			log.Warn("service task stream error", "err", err)
			outcome.fail(err.Error())
			break
		}
		eventCount++

		switch event.Type {
		case schema.AgentEventSystem:
			if event.Subtype != "init" || event.SessionID == "" {
				continue
			}
			outcome.sessionID = event.SessionID
			session := s.store.Upsert(event.SessionID, task, workdir)
			s.publishSessionUpdated(session)
			s.publish(schema.ServerEvent{Type: schema.ServerEventTaskStarted, SessionID: event.SessionID})
			log.Debug("service session captured", "session_id", event.SessionID)
			if err := send(schema.TaskEvent{
				Type:      schema.TaskEventConnected,
				Connected: &schema.ConnectedEvent{SessionID: event.SessionID},
			}); err != nil {
				return outcome, err
			}

		case schema.AgentEventStream:
			text := deltaText(event)
			if text == "" {
				continue
			}
			sawDelta = true
			if err := send(schema.TaskEvent{
				Type:  schema.TaskEventToken,
				Token: &schema.TokenEvent{Text: text},
			}); err != nil {
				return outcome, err
			}

		case schema.AgentEventAssistant:
			if event.Message == nil {
				continue
			}
			if event.Message.StopReason != "" {
				outcome.stopReason = event.Message.StopReason
			}
			for _, block := range event.Message.Content {
				switch block.Type {
				case "text":
					if block.Text == "" {
						continue
					}
					if assistantText.Len() > 0 {
						assistantText.WriteByte('\n')
					}
					assistantText.WriteString(block.Text)
					// Without partial deltas the full text stands in
					// for the token stream.
					if !sawDelta {
						if err := send(schema.TaskEvent{
							Type:  schema.TaskEventToken,
							Token: &schema.TokenEvent{Text: block.Text},
						}); err != nil {
							return outcome, err
						}
					}
				case "tool_use":
					pending[block.ID] = len(outcome.toolCalls)
					outcome.toolCalls = append(outcome.toolCalls, schema.ToolCall{
						ID:    block.ID,
						Name:  block.Name,
						Input: block.Input,
					})
					if err := send(schema.TaskEvent{
						Type:    schema.TaskEventToolUse,
						ToolUse: &schema.ToolUseEvent{ID: block.ID, Name: block.Name, Input: block.Input},
					}); err != nil {
						return outcome, err
					}
				}
			}

		case schema.AgentEventUser:
			if event.Message == nil {
				continue
			}
			for _, block := range event.Message.Content {
				if block.Type != "tool_result" {
					continue
				}
				content := resultText(block.Content)
				if idx, ok := pending[block.ToolUseID]; ok {
					delete(pending, block.ToolUseID)
					outcome.toolCalls[idx].Result = content
				}
				if err := send(schema.TaskEvent{
					Type: schema.TaskEventToolResult,
					ToolResult: &schema.ToolResultEvent{
						ToolUseID: block.ToolUseID,
						Content:   content,
						IsError:   block.IsError,
					},
				}); err != nil {
					return outcome, err
				}
			}

		case schema.AgentEventResult:
			sawResult = true
			if event.Usage != nil {
				outcome.usage = *event.Usage
			}
			outcome.costUSD = event.CostUSD
			if event.IsError {
				msg := event.Result
				if msg == "" {
					msg = "agent reported an error"
				}
				log.Warn("service task result error", "message", msg)
				outcome.fail(msg)
				continue
			}
			if event.Result != "" {
				outcome.response = event.Result
			}

		case schema.AgentEventError:
			// Stderr noise and decode hiccups are only fatal when the
			// stream ends without a result.
			if event.Error != nil && event.Error.Message != "" {
				lastError = event.Error.Message
			}
			log.Warn("service task stream reported error", "message", lastError)
		}
	}

	result, waitErr := handle.Wait(ctx)
	if !outcome.failed && !sawResult {
		msg := lastError
		if msg == "" && waitErr != nil {
			msg = waitErr.Error()
		}
		if msg == "" && result.ExitCode != 0 {
			msg = fmt.Sprintf("agent exited with code %d", result.ExitCode)
		}
		if msg == "" {
			msg = "agent stream ended without a result"
		}
		outcome.fail(msg)
	}
	if outcome.response == "" {
		outcome.response = assistantText.String()
	}

	if outcome.sessionID != "" {
		if outcome.usage != (schema.AgentUsage{}) || outcome.costUSD != 0 {
			s.store.UpdateUsage(outcome.sessionID, outcome.usage.TotalInput(), outcome.usage.OutputTokens, outcome.costUSD)
			if session, ok := s.store.Get(outcome.sessionID); ok {
				s.publishSessionUpdated(session)
			}
		}
		s.publish(schema.ServerEvent{Type: schema.ServerEventTaskCompleted, SessionID: outcome.sessionID})
	}

	if outcome.failed {
		log.Warn("service task failed",
			"session_id", outcome.sessionID,
			"events", eventCount,
			"message", outcome.failText,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		return outcome, nil
	}

	if err := send(schema.TaskEvent{
		Type: schema.TaskEventComplete,
		Complete: &schema.CompleteEvent{
			SessionID:  outcome.sessionID,
			StopReason: outcome.stopReason,
			Usage: schema.TokenUsage{
				Input:  outcome.usage.TotalInput(),
				Output: outcome.usage.OutputTokens,
			},
			CostUSD: outcome.costUSD,
		},
	}); err != nil {
		return outcome, err
	}

	log.Info("service task finished",
		"session_id", outcome.sessionID,
		"events", eventCount,
		"tool_calls", len(outcome.toolCalls),
		"exit_code", result.ExitCode,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return outcome, nil
}

// deltaText extracts incremental text from a stream_event wrapper.
func deltaText(event schema.AgentEvent) string {
	if event.Event == nil || event.Event.Type != "content_block_delta" {
		return ""
	}
	if event.Event.Delta == nil || event.Event.Delta.Type != "text_delta" {
		return ""
	}
	return event.Event.Delta.Text
}

// resultText renders tool_result content, which may be a plain JSON
// string or a block array.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var blocks []schema.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(raw)
}
