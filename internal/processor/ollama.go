package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"digestbot/internal/retry"
)

// OllamaConfig configures an Ollama-compatible generate endpoint.
type OllamaConfig struct {
	Name           string
	Endpoint       string // e.g. http://localhost:11434/api/generate
	Model          string
	Timeout        time.Duration
	MaxTokens      int
	PromptTemplate string
}

// Ollama talks to a local model through the Ollama generate API.
type Ollama struct {
	cfg    OllamaConfig
	client *http.Client
}

var _ Summarizer = (*Ollama)(nil)

func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "ollama"
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = "http://localhost:11434/api/generate"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "mistral"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &Ollama{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (o *Ollama) Name() string { return o.cfg.Name }

func (o *Ollama) Summarize(ctx context.Context, content string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":  o.cfg.Model,
		"prompt": renderPrompt(o.cfg.PromptTemplate, content),
		"stream": false,
		"options": map[string]any{
			"num_predict": o.cfg.MaxTokens,
			"temperature": 0.7,
			"top_p":       0.9,
		},
	})
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", retry.Transient(fmt.Errorf("ollama request: %w", err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return "", err
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", retry.Transient(fmt.Errorf("decode response: %w", err))
	}

	summary := strings.TrimSpace(out.Response)
	if summary == "" {
		// A blank completion is treated like a flaky model, not a result.
		return "", retry.Transient(errors.New("empty response from model"))
	}
	return summary, nil
}

// classifyStatus maps HTTP status classes onto the retry taxonomy.
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err := fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return retry.Transient(err)
	}
	return retry.Permanent(err)
}
