// Package transcript reads the claude CLI's on-disk session logs. The
// files are owned and appended by the CLI; everything here is read-only
// and maximally lenient, skipping lines it cannot parse.
package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

const (
	scanBufSize = 256 * 1024
	// maxLineSize accommodates tool results carrying whole files.
	maxLineSize = 10 * 1024 * 1024
)

// Reader lists and replays transcripts under a projects directory.
type Reader struct {
	projectsDir string
	log         pslog.Logger

	mu    sync.Mutex
	cache []schema.Session
	valid bool
}

// NewReader constructs a Reader rooted at projectsDir.
func NewReader(projectsDir string, logger pslog.Logger) *Reader {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Reader{
		projectsDir: projectsDir,
		log:         logger.With("projects_dir", projectsDir),
	}
}

// Sessions returns one summary per transcript file, cached until
// Invalidate. A missing projects directory yields an empty list.
func (r *Reader) Sessions() []schema.Session {
	r.mu.Lock()
	if r.valid {
		out := make([]schema.Session, len(r.cache))
		copy(out, r.cache)
		r.mu.Unlock()
		return out
	}
	r.mu.Unlock()

	sessions := r.scan()

	r.mu.Lock()
	r.cache = sessions
	r.valid = true
	out := make([]schema.Session, len(sessions))
	copy(out, sessions)
	r.mu.Unlock()
	return out
}

// Invalidate drops the cached listing so the next Sessions call rescans.
func (r *Reader) Invalidate() {
	r.mu.Lock()
	r.valid = false
	r.cache = nil
	r.mu.Unlock()
}

// Find returns the summary for one transcript by id.
func (r *Reader) Find(id schema.SessionID) (schema.Session, bool) {
	for _, session := range r.Sessions() {
		if session.ID == id {
			return session, true
		}
	}
	return schema.Session{}, false
}

// Messages replays the transcript for id in order, pairing tool calls
// with their later results.
func (r *Reader) Messages(id schema.SessionID) ([]schema.Message, error) {
	if err := schema.ValidateSessionID(id); err != nil {
		return nil, err
	}
	path, err := r.findTranscript(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, schema.ErrTranscriptNotFound
	}
	defer f.Close()
	return r.parseMessages(f), nil
}

func (r *Reader) scan() []schema.Session {
	entries, err := os.ReadDir(r.projectsDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.log.Debug("transcript scan failed", "err", err)
		}
		return nil
	}
	var sessions []schema.Session
	for _, project := range entries {
		if !project.IsDir() {
			continue
		}
		projectDir := filepath.Join(r.projectsDir, project.Name())
		files, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		for _, file := range files {
			// Top-level .jsonl only; subdirectories hold subagent logs.
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".jsonl") {
				continue
			}
			session, ok := r.summarize(filepath.Join(projectDir, file.Name()))
			if !ok {
				continue
			}
			sessions = append(sessions, session)
		}
	}
	schema.SortByActivity(sessions)
	return sessions
}

// transcriptLine is the subset of the CLI's log schema this server reads.
type transcriptLine struct {
	Type          string          `json:"type"`
	SessionID     string          `json:"sessionId"`
	Cwd           string          `json:"cwd"`
	Timestamp     string          `json:"timestamp"`
	Message       *lineMessage    `json:"message"`
	ToolUseResult json.RawMessage `json:"toolUseResult"`
}

type lineMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Usage   *lineUsage      `json:"usage"`
}

type lineUsage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// summarize derives a session record from one transcript. The file name is
// the session id even when lines carry a different internal sessionId; the
// CLI resumes by file, so the file identity wins.
func (r *Reader) summarize(path string) (schema.Session, bool) {
	f, err := os.Open(path)
	if err != nil {
		return schema.Session{}, false
	}
	defer f.Close()

	session := schema.Session{
		ID:     schema.SessionID(strings.TrimSuffix(filepath.Base(path), ".jsonl")),
		Source: schema.SourceExternal,
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, scanBufSize), maxLineSize)
	seen := false
	for sc.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			continue
		}
		seen = true
		if line.Timestamp != "" {
			if session.CreatedAt == "" {
				session.CreatedAt = line.Timestamp
			}
			session.LastActivity = line.Timestamp
		}
		if session.Directory == "" && line.Cwd != "" {
			session.Directory = line.Cwd
		}
		if line.Message == nil {
			continue
		}
		switch line.Type {
		case "user":
			text, _ := userText(line.Message.Content)
			if text == "" {
				continue
			}
			session.MessageCount++
			if session.Title == "" {
				session.Title = schema.NormalizeTitle(text, schema.DefaultTitleMax)
			}
		case "assistant":
			if usage := line.Message.Usage; usage != nil {
				session.Tokens.Input += usage.InputTokens + usage.CacheCreationInputTokens + usage.CacheReadInputTokens
				session.Tokens.Output += usage.OutputTokens
			}
		}
	}
	if err := sc.Err(); err != nil {
		r.log.Debug("transcript truncated", "file", filepath.Base(path), "err", err)
	}
	if !seen {
		return schema.Session{}, false
	}
	return session, true
}

func (r *Reader) findTranscript(id schema.SessionID) (string, error) {
	entries, err := os.ReadDir(r.projectsDir)
	if err != nil {
		return "", schema.ErrTranscriptNotFound
	}
	name := string(id) + ".jsonl"
	for _, project := range entries {
		if !project.IsDir() {
			continue
		}
		path := filepath.Join(r.projectsDir, project.Name(), name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", schema.ErrTranscriptNotFound
}

// callPos addresses one tool call inside the message slice being built.
type callPos struct {
	msg  int
	call int
}

func (r *Reader) parseMessages(f *os.File) []schema.Message {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, scanBufSize), maxLineSize)

	var messages []schema.Message
	pending := make(map[string]callPos)

	for sc.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			continue
		}
		if line.Message == nil {
			continue
		}
		switch line.Type {
		case "user":
			resolveToolResults(line, pending, messages)
			text, _ := userText(line.Message.Content)
			if text == "" {
				continue
			}
			messages = append(messages, schema.Message{
				Role:      "user",
				Text:      text,
				Timestamp: line.Timestamp,
			})
		case "assistant":
			text, calls := assistantContent(line.Message.Content)
			if text == "" && len(calls) == 0 {
				continue
			}
			if n := len(messages); n > 0 && messages[n-1].Role == "assistant" {
				prev := &messages[n-1]
				if text != "" {
					if prev.Text != "" {
						prev.Text += "\n" + text
					} else {
						prev.Text = text
					}
				}
				for _, call := range calls {
					prev.ToolCalls = append(prev.ToolCalls, call)
					pending[call.ID] = callPos{msg: n - 1, call: len(prev.ToolCalls) - 1}
				}
				continue
			}
			messages = append(messages, schema.Message{
				Role:      "assistant",
				Text:      text,
				ToolCalls: calls,
				Timestamp: line.Timestamp,
			})
			for i, call := range calls {
				pending[call.ID] = callPos{msg: len(messages) - 1, call: i}
			}
		}
	}
	if err := sc.Err(); err != nil {
		r.log.Debug("transcript replay truncated", "err", err)
	}
	return messages
}

// resolveToolResults fills Result and Details on earlier tool calls.
// Unmatched results are dropped; unresolved calls keep an empty Result.
func resolveToolResults(line transcriptLine, pending map[string]callPos, messages []schema.Message) {
	var blocks []contentBlock
	if err := json.Unmarshal(line.Message.Content, &blocks); err != nil {
		return
	}
	for _, b := range blocks {
		if b.Type != "tool_result" || b.ToolUseID == "" {
			continue
		}
		pos, ok := pending[b.ToolUseID]
		if !ok {
			continue
		}
		delete(pending, b.ToolUseID)
		call := &messages[pos.msg].ToolCalls[pos.call]
		call.Result = resultText(b.Content)
		if details := decodeDetails(line.ToolUseResult); details != nil {
			call.Details = details
		}
	}
}

// userText extracts human-authored text from a user line. The second
// return reports a tool_result-only line.
func userText(raw json.RawMessage) (string, bool) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if isSystemText(str) {
			return "", false
		}
		return str, false
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", false
	}
	hasToolResult := false
	var texts []string
	for _, b := range blocks {
		switch b.Type {
		case "tool_result":
			hasToolResult = true
		case "text":
			if b.Text != "" && !isSystemText(b.Text) {
				texts = append(texts, b.Text)
			}
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n"), false
	}
	return "", hasToolResult
}

// isSystemText reports CLI-generated noise that is not a real user turn.
func isSystemText(text string) bool {
	return strings.HasPrefix(text, "<command-name>") ||
		strings.HasPrefix(text, "<local-command-") ||
		strings.HasPrefix(text, "<environment_context>") ||
		strings.HasPrefix(text, "Caveat:") ||
		strings.Contains(text, "<system-reminder>")
}

func assistantContent(raw json.RawMessage) (string, []schema.ToolCall) {
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil
	}
	var texts []string
	var calls []schema.ToolCall
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case "tool_use":
			calls = append(calls, schema.ToolCall{ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	return strings.Join(texts, "\n"), calls
}

// resultText renders tool_result content, which may be a plain string or
// a block list.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var blocks []contentBlock
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

type toolResultMeta struct {
	FilePath string `json:"filePath"`
	File     *struct {
		FilePath string `json:"filePath"`
		NumLines int    `json:"numLines"`
	} `json:"file"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	NumLines        int    `json:"numLines"`
	NumFiles        int    `json:"numFiles"`
	StructuredPatch []struct {
		Lines []string `json:"lines"`
	} `json:"structuredPatch"`
}

// decodeDetails lifts the CLI's structured result metadata when present.
func decodeDetails(raw json.RawMessage) *schema.ToolDetails {
	if len(raw) == 0 {
		return nil
	}
	var meta toolResultMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	details := schema.ToolDetails{
		FilePath:   meta.FilePath,
		LineCount:  meta.NumLines,
		Stdout:     meta.Stdout,
		Stderr:     meta.Stderr,
		MatchCount: meta.NumFiles,
	}
	if meta.File != nil {
		if details.FilePath == "" {
			details.FilePath = meta.File.FilePath
		}
		if details.LineCount == 0 {
			details.LineCount = meta.File.NumLines
		}
	}
	for _, hunk := range meta.StructuredPatch {
		if len(hunk.Lines) == 0 {
			continue
		}
		if details.Diff != "" {
			details.Diff += "\n"
		}
		details.Diff += strings.Join(hunk.Lines, "\n")
	}
	if details == (schema.ToolDetails{}) {
		return nil
	}
	return &details
}
