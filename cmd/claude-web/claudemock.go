package main

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newClaudeMockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claude-mock --print --output-format stream-json [--include-partial-messages] [--model <id>] [--resume <id>] [--scenario <name>] [--seed <n>] [--delay-ms <n>] [prompt|-]",
		Short: "Mock claude stream-json output for testing",
		// The mock accepts claude's own flags, so cobra must not parse
		// them.
		DisableFlagParsing: true,
		SilenceErrors:      true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClaudeMock(args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runClaudeMock(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) error {
	cfg, err := parseMockArgs(args)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return err
	}

	prompt, err := resolveMockPrompt(cfg.prompt, stdin)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return err
	}
	cfg.prompt = prompt

	if !cfg.seedSet {
		cfg.seed = hashSeed(cfg.prompt, cfg.resumeID, cfg.model, cfg.scenario)
	}

	sessionID := cfg.resumeID
	if sessionID == "" {
		sessionID = mockSessionID(cfg.seed)
	}
	model := cfg.model
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	run := mockRun{cfg: cfg, sessionID: sessionID, model: model}

	writer := bufio.NewWriter(stdout)
	defer func() { _ = writer.Flush() }()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	signalSeen := make(chan os.Signal, 1)
	go func() { signalSeen <- <-sigCh }()

	cwd, _ := os.Getwd()
	if err := writeMockEvent(writer, map[string]any{
		"type":       "system",
		"subtype":    "init",
		"session_id": sessionID,
		"model":      model,
		"cwd":        cwd,
		"tools":      []string{"Bash", "Read", "Write", "Edit"},
	}); err != nil {
		return err
	}

	scenario, err := pickScenario(cfg)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return err
	}
	if err := scenario.run(run, writer); err != nil {
		return err
	}

	select {
	case sig := <-signalSeen:
		return writeMockEvent(writer, map[string]any{
			"type":  "error",
			"error": map[string]any{"message": fmt.Sprintf("mock received %s", sig)},
		})
	default:
	}
	return nil
}

type mockConfig struct {
	print          bool
	outputFormat   string
	includePartial bool
	model          string
	resumeID       string
	prompt         string
	scenario       string
	seed           uint64
	seedSet        bool
	delay          time.Duration
}

type mockRun struct {
	cfg       mockConfig
	sessionID string
	model     string
}

type mockScenario struct {
	name string
	run  func(run mockRun, w *bufio.Writer) error
}

func parseMockArgs(args []string) (mockConfig, error) {
	cfg := mockConfig{delay: 20 * time.Millisecond}
	var positional []string
	for len(args) > 0 {
		arg := args[0]
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positional = append(positional, arg)
			args = args[1:]
			continue
		}
		needValue := func() (string, error) {
			if len(args) < 2 {
				return "", fmt.Errorf("%s requires a value", arg)
			}
			return args[1], nil
		}
		switch arg {
		case "--print", "-p":
			cfg.print = true
			args = args[1:]
		case "--verbose", "--dangerously-skip-permissions":
			args = args[1:]
		case "--include-partial-messages":
			cfg.includePartial = true
			args = args[1:]
		case "--output-format":
			value, err := needValue()
			if err != nil {
				return mockConfig{}, err
			}
			cfg.outputFormat = value
			args = args[2:]
		case "--model":
			value, err := needValue()
			if err != nil {
				return mockConfig{}, err
			}
			cfg.model = value
			args = args[2:]
		case "--resume":
			value, err := needValue()
			if err != nil {
				return mockConfig{}, err
			}
			cfg.resumeID = value
			args = args[2:]
		case "--scenario":
			value, err := needValue()
			if err != nil {
				return mockConfig{}, err
			}
			cfg.scenario = value
			args = args[2:]
		case "--seed":
			value, err := needValue()
			if err != nil {
				return mockConfig{}, err
			}
			seed, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return mockConfig{}, fmt.Errorf("invalid --seed: %w", err)
			}
			cfg.seed = seed
			cfg.seedSet = true
			args = args[2:]
		case "--delay-ms":
			value, err := needValue()
			if err != nil {
				return mockConfig{}, err
			}
			ms, err := strconv.Atoi(value)
			if err != nil || ms < 0 {
				return mockConfig{}, errors.New("invalid --delay-ms")
			}
			cfg.delay = time.Duration(ms) * time.Millisecond
			args = args[2:]
		default:
			return mockConfig{}, fmt.Errorf("unsupported flag: %s", arg)
		}
	}
	if !cfg.print || cfg.outputFormat != "stream-json" {
		return mockConfig{}, errors.New("claude-mock requires --print --output-format stream-json")
	}
	cfg.prompt = strings.Join(positional, " ")
	return cfg, nil
}

func resolveMockPrompt(arg string, stdin io.Reader) (string, error) {
	if arg == "-" {
		return readStdinPrompt(stdin)
	}
	if strings.TrimSpace(arg) != "" {
		return arg, nil
	}
	if isTerminalReader(stdin) {
		return "", errors.New("no prompt provided")
	}
	return readStdinPrompt(stdin)
}

func readStdinPrompt(stdin io.Reader) (string, error) {
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("no prompt provided via stdin")
	}
	return prompt, nil
}

func isTerminalReader(stdin io.Reader) bool {
	file, ok := stdin.(*os.File)
	if !ok {
		return false
	}
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func hashSeed(prompt, resumeID, model, scenario string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(prompt))
	_, _ = hasher.Write([]byte(resumeID))
	_, _ = hasher.Write([]byte(model))
	_, _ = hasher.Write([]byte(scenario))
	return hasher.Sum64()
}

// mockSessionID derives a uuid-shaped id so resumed and fresh sessions
// look like the CLI's own.
func mockSessionID(seed uint64) string {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], seed)
	binary.LittleEndian.PutUint64(buf[8:16], seed^0x9e3779b97f4a7c15)
	raw := hex.EncodeToString(buf[:])
	return fmt.Sprintf("%s-%s-%s-%s-%s", raw[0:8], raw[8:12], raw[12:16], raw[16:20], raw[20:32])
}

func buildScenarios() []mockScenario {
	return []mockScenario{
		{name: "answer", run: scenarioAnswer},
		{name: "tool", run: scenarioTool},
		{name: "failure", run: scenarioFailure},
	}
}

func pickScenario(cfg mockConfig) (mockScenario, error) {
	scenarios := buildScenarios()
	if cfg.scenario != "" {
		for _, s := range scenarios {
			if s.name == cfg.scenario {
				return s, nil
			}
		}
		return mockScenario{}, fmt.Errorf("unknown scenario: %s", cfg.scenario)
	}
	// The failure scenario only runs when asked for; random tasks
	// should succeed.
	idx := int(cfg.seed % uint64(len(scenarios)-1))
	return scenarios[idx], nil
}

func scenarioAnswer(run mockRun, w *bufio.Writer) error {
	text := mockAnswer(run.cfg.seed, run.cfg.prompt)
	if err := run.writeDeltas(w, text); err != nil {
		return err
	}
	if err := run.writeAssistant(w, []map[string]any{
		{"type": "text", "text": text},
	}, "end_turn"); err != nil {
		return err
	}
	return run.writeResult(w, text, 1)
}

func scenarioTool(run mockRun, w *bufio.Writer) error {
	toolID := fmt.Sprintf("toolu_mock_%08x", run.cfg.seed)
	if err := run.writeAssistant(w, []map[string]any{
		{"type": "text", "text": "Let me look at the directory first."},
		{"type": "tool_use", "id": toolID, "name": "Bash", "input": map[string]any{"command": "ls"}},
	}, "tool_use"); err != nil {
		return err
	}
	run.pause()
	if err := writeMockEvent(w, map[string]any{
		"type":       "user",
		"session_id": run.sessionID,
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{{
				"type":        "tool_result",
				"tool_use_id": toolID,
				"content":     "README.md\ngo.mod\nmain.go\n",
			}},
		},
	}); err != nil {
		return err
	}
	text := mockAnswer(run.cfg.seed, run.cfg.prompt)
	if err := run.writeDeltas(w, text); err != nil {
		return err
	}
	if err := run.writeAssistant(w, []map[string]any{
		{"type": "text", "text": text},
	}, "end_turn"); err != nil {
		return err
	}
	return run.writeResult(w, text, 2)
}

func scenarioFailure(run mockRun, w *bufio.Writer) error {
	return writeMockEvent(w, map[string]any{
		"type":       "result",
		"subtype":    "error_during_execution",
		"is_error":   true,
		"result":     "mock failure: simulated agent error",
		"session_id": run.sessionID,
		"num_turns":  1,
		"usage":      run.usage(),
	})
}

// writeDeltas emits the partial-message wrapper sequence around the
// final text, chunked a few words at a time.
func (m mockRun) writeDeltas(w *bufio.Writer, text string) error {
	if !m.cfg.includePartial {
		return nil
	}
	events := []map[string]any{
		{"type": "message_start", "message": map[string]any{
			"id":    fmt.Sprintf("msg_mock_%08x", m.cfg.seed),
			"role":  "assistant",
			"model": m.model,
		}},
		{"type": "content_block_start", "index": 0, "content_block": map[string]any{"type": "text", "text": ""}},
	}
	for _, chunk := range chunkText(text) {
		events = append(events, map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": chunk},
		})
	}
	events = append(events,
		map[string]any{"type": "content_block_stop", "index": 0},
		map[string]any{"type": "message_stop"},
	)
	for _, event := range events {
		if err := writeMockEvent(w, map[string]any{
			"type":       "stream_event",
			"session_id": m.sessionID,
			"event":      event,
		}); err != nil {
			return err
		}
		m.pause()
	}
	return nil
}

func (m mockRun) writeAssistant(w *bufio.Writer, blocks []map[string]any, stopReason string) error {
	return writeMockEvent(w, map[string]any{
		"type":       "assistant",
		"session_id": m.sessionID,
		"message": map[string]any{
			"id":          fmt.Sprintf("msg_mock_%08x", m.cfg.seed),
			"role":        "assistant",
			"model":       m.model,
			"stop_reason": stopReason,
			"content":     blocks,
			"usage":       m.usage(),
		},
	})
}

func (m mockRun) writeResult(w *bufio.Writer, finalText string, numTurns int) error {
	return writeMockEvent(w, map[string]any{
		"type":           "result",
		"subtype":        "success",
		"is_error":       false,
		"result":         finalText,
		"session_id":     m.sessionID,
		"num_turns":      numTurns,
		"duration_ms":    40 + int(m.cfg.seed%200),
		"total_cost_usd": float64(20+m.cfg.seed%80) / 10000,
		"usage":          m.usage(),
	})
}

func (m mockRun) usage() map[string]any {
	return map[string]any{
		"input_tokens":                len(m.cfg.prompt) + 12,
		"cache_creation_input_tokens": len(m.cfg.prompt) / 4,
		"cache_read_input_tokens":     len(m.cfg.prompt) / 3,
		"output_tokens":               20 + int(m.cfg.seed%50),
	}
}

func (m mockRun) pause() {
	if m.cfg.delay > 0 {
		time.Sleep(m.cfg.delay)
	}
}

func chunkText(text string) []string {
	words := strings.SplitAfter(text, " ")
	var chunks []string
	for len(words) > 0 {
		n := 3
		if n > len(words) {
			n = len(words)
		}
		chunks = append(chunks, strings.Join(words[:n], ""))
		words = words[n:]
	}
	return chunks
}

func writeMockEvent(w *bufio.Writer, event map[string]any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString("\n"); err != nil {
		return err
	}
	return w.Flush()
}

func mockAnswer(seed uint64, prompt string) string {
	templates := []string{
		"Mock response: handled request %q.",
		"Mock response: completed task for %q.",
		"Mock response: produced summary for %q.",
		"Mock response: generated output for %q.",
	}
	idx := int(seed % uint64(len(templates)))
	return fmt.Sprintf(templates[idx], prompt)
}
