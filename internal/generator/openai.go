package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	config "github.com/maheshrc27/linkedin-scheduler/configs"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 500
)

// ChatClient calls an OpenAI-compatible chat completions endpoint. OpenRouter
// and Together AI both speak this protocol.
type ChatClient struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	headers map[string]string
	client  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func NewChatClient(name, baseURL, apiKey, model string, client *http.Client) *ChatClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		headers: map[string]string{},
		client:  client,
	}
}

func NewOpenRouter(baseURL, apiKey, model string, client *http.Client) *ChatClient {
	c := NewChatClient("openrouter", baseURL, apiKey, model, client)
	c.headers["X-Title"] = "LinkedIn Scheduler"
	return c
}

func NewTogether(baseURL, apiKey, model string, client *http.Client) *ChatClient {
	return NewChatClient("together", baseURL, apiKey, model, client)
}

func (c *ChatClient) Name() string {
	return c.name
}

func (c *ChatClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%s API error: %d - %s", c.name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s API error: decoding response: %w", c.name, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s API error: no choices returned", c.name)
	}
	return out.Choices[0].Message.Content, nil
}

// NewFromConfig builds the provider chain from the configured API keys, in
// the order OpenRouter, Together, Hugging Face. A chain without keys always reports ErrNoContent.
func NewFromConfig(cfg config.Generator, logger *slog.Logger) *Chain {
	client := &http.Client{Timeout: cfg.Timeout + 5*time.Second}

	var providers []Provider
	if cfg.OpenRouterAPIKey != "" {
		providers = append(providers, NewOpenRouter(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, cfg.OpenRouterModel, client))
	}
	if cfg.TogetherAPIKey != "" {
		providers = append(providers, NewTogether(cfg.TogetherBaseURL, cfg.TogetherAPIKey, cfg.TogetherModel, client))
	}
	if cfg.HuggingFaceAPIKey != "" {
		providers = append(providers, NewHuggingFace(cfg.HuggingFaceBaseURL, cfg.HuggingFaceAPIKey, cfg.HuggingFaceModel, client))
	}
	return NewChain(cfg.Timeout, logger, providers...)
}
