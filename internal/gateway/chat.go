package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatConfig configures an OpenAI-compatible chat completions endpoint (LM Studio, TGI, vLLM, OpenAI).
type ChatConfig struct {
	Endpoint    string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
}

type ChatBackend struct {
	cfg        ChatConfig
	httpClient *http.Client
}

func NewChatBackend(cfg ChatConfig) *ChatBackend {
	if cfg.Model == "" {
		cfg.Model = "local-model"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	return &ChatBackend{
		cfg: cfg,
		// The gateway owns per-call deadlines; this only guards against a missing context deadline.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (b *ChatBackend) Call(ctx context.Context, c Capability, p Payload) (string, error) {
	system, user, err := buildPrompt(c, p)
	if err != nil {
		return "", err
	}

	body, _ := json.Marshal(ChatRequest{
		Model: b.cfg.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   b.cfg.MaxTokens,
		Temperature: b.cfg.Temperature,
	})

	url := strings.TrimRight(b.cfg.Endpoint, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var result ChatResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", invalidResponse("decode chat response: %v", err)
	}
	if len(result.Choices) == 0 {
		return "", invalidResponse("no choices in chat response")
	}
	return result.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("...(%d bytes)", len(s))
}
