package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/agora-run/agora/internal/config"
)

// HTTPClient is the module's one default Client implementation: a thin
// adapter onto the OpenAI-compatible chat-completions wire format, the
// common denominator across Ollama, vLLM, OpenAI, Azure OpenAI, and the
// gateway most self-hosted Anthropic-compatible proxies present. spec.md
// §1 places the reasoning session itself out of scope — Ego/Id/the tick
// SessionLauncher consume it only through the Client interface above, so
// this file's job is to exercise that boundary, not to reproduce any one
// vendor's full SDK.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	headers    map[string]string
	modelInfo  *ModelInfo
}

// NewClient builds the default HTTPClient from cfg, resolving an api_key
// that starts with '$' as an environment variable name.
func NewClient(cfg *config.APIConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("API config is nil")
	}
	if strings.TrimSpace(cfg.APIType) == "" {
		return nil, fmt.Errorf("api_type is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base_url is required")
	}

	apiKey, err := resolveAPIKey(cfg.APIKey)
	if err != nil {
		return nil, err
	}

	timeout := 300 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     apiKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		headers:    cfg.Headers,
		modelInfo: &ModelInfo{
			ID:             cfg.Model,
			Provider:       strings.ToLower(strings.TrimSpace(cfg.APIType)),
			ContextWindow:  cfg.ContextWindow,
			SupportsTools:  cfg.SupportsTools,
			SupportsVision: cfg.SupportsVision,
		},
	}, nil
}

func resolveAPIKey(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	if strings.HasPrefix(s, "$") {
		name := strings.TrimPrefix(s, "$")
		if name == "" {
			return "", fmt.Errorf("invalid api_key: %q", raw)
		}
		return os.Getenv(name), nil
	}
	return s, nil
}

// Chat sends a chat-completions request and returns the model's complete
// reply.
func (c *HTTPClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	wireReq := map[string]any{
		"model":    c.model,
		"messages": encodeMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		wireReq["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		wireReq["temperature"] = *req.Temperature
	}
	if len(req.StopSeqs) > 0 {
		wireReq["stop"] = req.StopSeqs
	}
	if len(req.Tools) > 0 {
		wireReq["tools"] = encodeTools(req.Tools)
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(errBody))
	}

	var wireResp chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(wireResp.Choices) == 0 {
		return nil, fmt.Errorf("response carried no choices")
	}

	choice := wireResp.Choices[0]
	result := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	if wireResp.Usage != nil {
		result.Usage = &Usage{
			PromptTokens:     wireResp.Usage.PromptTokens,
			CompletionTokens: wireResp.Usage.CompletionTokens,
			TotalTokens:      wireResp.Usage.TotalTokens,
		}
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return result, nil
}

// Stream currently falls back to a single non-streaming call and replays
// it as one chunk; a true SSE reader is future work, not something
// spec.md's scope requires (the reasoning session is consumed as an
// opaque request/result operation).
func (c *HTTPClient) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := c.Chat(ctx, req)
		if err != nil {
			ch <- StreamChunk{Err: err, Done: true}
			return
		}
		if resp.Content != "" {
			ch <- StreamChunk{Type: TextChunk, Text: resp.Content}
		}
		for _, tc := range resp.ToolCalls {
			tcCopy := tc
			ch <- StreamChunk{Type: ToolCallChunk, ToolCall: &tcCopy}
		}
		ch <- StreamChunk{Done: true}
	}()
	return ch, nil
}

func (c *HTTPClient) ModelInfo() *ModelInfo { return c.modelInfo }

func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type chatCompletionResponse struct {
	Choices []chatChoice   `json:"choices"`
	Usage   *chatUsageWire `json:"usage"`
}

type chatChoice struct {
	Message      chatMessageWire `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type chatMessageWire struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []chatToolCall   `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatUsageWire struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func encodeMessages(msgs []Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		wire := map[string]any{"role": m.Role, "content": m.Content}
		if m.ToolCallID != "" {
			wire["tool_call_id"] = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			tcs := make([]map[string]any, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				tcs = append(tcs, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(tc.Args),
					},
				})
			}
			wire["tool_calls"] = tcs
		}
		out = append(out, wire)
	}
	return out
}

func encodeTools(tools []ToolDef) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return out
}
