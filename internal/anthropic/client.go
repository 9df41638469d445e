// Package anthropic is a minimal messages API client. It covers exactly
// what the in-process agent loop needs: non-streaming message creation
// with tool definitions.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"
	defaultTimeout = 120 * time.Second
)

// Config controls endpoint and credentials.
type Config struct {
	// BaseURL is the API root without the /v1/messages path.
	BaseURL string
	APIKey  string
	// Version is sent as the anthropic-version header.
	Version string
	Timeout time.Duration
	// HTTPClient overrides the default client when set. Timeout is
	// ignored in that case.
	HTTPClient *http.Client
}

// Client issues messages API requests.
type Client struct {
	cfg  Config
	http *http.Client
	log  pslog.Logger
}

// NewClient validates the key and applies defaults.
func NewClient(cfg Config, logger pslog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, schema.ErrAPIKeyMissing
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient, log: logger}, nil
}

// Message is one conversation turn. Content reuses the stream-json
// block union so tool_use and tool_result round-trip unchanged.
type Message struct {
	Role    string                `json:"role"`
	Content []schema.ContentBlock `json:"content"`
}

// Tool describes one tool the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// MessagesRequest is the POST /v1/messages body.
type MessagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Tools     []Tool    `json:"tools,omitempty"`
}

// MessagesResponse is the successful response body.
type MessagesResponse struct {
	ID         string                `json:"id"`
	Role       string                `json:"role"`
	Model      string                `json:"model"`
	Content    []schema.ContentBlock `json:"content"`
	StopReason string                `json:"stop_reason"`
	Usage      schema.AgentUsage     `json:"usage"`
}

type apiError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Messages sends one request and decodes the response. Non-2xx statuses
// are returned as errors carrying the API's message when one decodes.
func (c *Client) Messages(ctx context.Context, req MessagesRequest) (*MessagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.cfg.APIKey)
	httpReq.Header.Set("Anthropic-Version", c.cfg.Version)

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("messages request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		msg := bodyPreview(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		c.log.Warn("messages api error",
			"status", resp.StatusCode,
			"message", msg,
		)
		return nil, fmt.Errorf("messages api %d: %s", resp.StatusCode, msg)
	}

	var out MessagesResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	c.log.Debug("messages api ok",
		"model", out.Model,
		"stop_reason", out.StopReason,
		"input_tokens", out.Usage.TotalInput(),
		"output_tokens", out.Usage.OutputTokens,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return &out, nil
}

// TextContent builds the single-block content for a plain text turn.
func TextContent(text string) []schema.ContentBlock {
	return []schema.ContentBlock{{Type: "text", Text: text}}
}

func bodyPreview(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
