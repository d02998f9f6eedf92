package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"digestbot/internal/retry"
)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	Name           string
	Endpoint       string // e.g. https://api.openai.com/v1/chat/completions
	Model          string
	APIKey         string
	Timeout        time.Duration
	MaxTokens      int
	PromptTemplate string
}

// OpenAI talks to a hosted chat-completions model.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

var _ Summarizer = (*OpenAI)(nil)

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "openai"
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = "https://api.openai.com/v1/chat/completions"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &OpenAI{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (o *OpenAI) Name() string { return o.cfg.Name }

func (o *OpenAI) Summarize(ctx context.Context, content string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model": o.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": renderPrompt(o.cfg.PromptTemplate, content)},
		},
		"max_tokens": o.cfg.MaxTokens,
	})
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", retry.Transient(fmt.Errorf("openai request: %w", err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return "", err
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", retry.Transient(fmt.Errorf("decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", retry.Transient(errors.New("no choices in response"))
	}

	summary := strings.TrimSpace(out.Choices[0].Message.Content)
	if summary == "" {
		return "", retry.Transient(errors.New("empty response from model"))
	}
	return summary, nil
}
