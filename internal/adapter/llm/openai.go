// Package llm provides generative model clients for theme synthesis.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"docbot/internal/adapter/retry"
)

// Options configures a chat completion client.
type Options struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKeyEnv   string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Client is a generic OpenAI-compatible chat completion client.
type Client struct {
	provider    string
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

var providers = map[string]struct {
	baseURL   string
	keyEnvVar string
}{
	"openai":      {"https://api.openai.com/v1", "OPENAI_API_KEY"},
	"deepseek":    {"https://api.deepseek.com/v1", "DEEPSEEK_API_KEY"},
	"huggingface": {"https://router.huggingface.co/v1", "HF_TOKEN"},
	"ollama":      {"http://localhost:11434/v1", ""},
}

const systemPrompt = "You summarize document passages into themes. Only use the passages you are given and cite them exactly as labelled."

// NewClient creates a client for the configured provider. An unknown
// provider needs an explicit BaseURL.
func NewClient(opts Options) (*Client, error) {
	p, ok := providers[opts.Provider]
	if !ok && opts.BaseURL == "" {
		return nil, fmt.Errorf("unknown provider: %s (set generation.base_url for custom endpoints)", opts.Provider)
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = p.baseURL
	}

	keyEnv := opts.APIKeyEnv
	if keyEnv == "" {
		keyEnv = p.keyEnvVar
	}
	var apiKey string
	if keyEnv != "" && opts.Provider != "ollama" {
		apiKey = os.Getenv(keyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found. Set %s environment variable", keyEnv)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		provider:    opts.Provider,
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

// Generate sends a single-turn chat completion request.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", retry.Transient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", retry.Transient(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("API returned status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", retry.Transient(err)
		}
		return "", err
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}

	return chatResp.Choices[0].Message.Content, nil
}

func (c *Client) ModelName() string {
	return c.provider + "/" + c.model
}

// Unavailable is a generator that always fails. It stands in when no model
// is configured so queries still return ranked passages.
type Unavailable struct {
	Reason error
}

func (u Unavailable) Generate(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("generator unavailable: %w", u.Reason)
}

func (u Unavailable) ModelName() string {
	return "unavailable"
}
