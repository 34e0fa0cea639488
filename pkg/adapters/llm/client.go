package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/flowchat/pkg/ports"
)

// Provider types understood by Client.
const (
	TypeOpenAI = "openai"
	TypeOllama = "ollama"
)

// Default endpoints used when a provider leaves BaseURL empty.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOllamaBaseURL = "http://localhost:11434"
)

const defaultTimeout = 60 * time.Second

// Client implements ports.ModelProvider over HTTP.
type Client struct {
	http *http.Client
}

var _ ports.ModelProvider = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.http = c
	}
}

// NewClient creates a Client with a 60 second timeout.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{http: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends one non-streaming completion request.
func (c *Client) Complete(ctx context.Context, provider ports.ProviderConfig, model ports.ModelConfig, prompt ports.Prompt) (string, error) {
	switch strings.ToLower(provider.Type) {
	case "", TypeOpenAI:
		return c.completeOpenAI(ctx, provider, model, prompt)
	case TypeOllama:
		return c.completeOllama(ctx, provider, model, prompt)
	default:
		return "", fmt.Errorf("%w type %q", ErrUnknownProvider, provider.Type)
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) completeOpenAI(ctx context.Context, provider ports.ProviderConfig, model ports.ModelConfig, prompt ports.Prompt) (string, error) {
	payload := chatRequest{
		Model:       model.Name,
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
	}
	if prompt.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: prompt.System})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: prompt.User})

	headers := map[string]string{}
	if provider.APIKey != "" {
		headers["Authorization"] = "Bearer " + provider.APIKey
	}

	var parsed chatResponse
	url := baseURL(provider.BaseURL, DefaultOpenAIBaseURL) + "/chat/completions"
	if err := c.post(ctx, providerName(provider), url, headers, payload, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", providerName(provider), ErrNoChoices)
	}
	return parsed.Choices[0].Message.Content, nil
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *Client) completeOllama(ctx context.Context, provider ports.ProviderConfig, model ports.ModelConfig, prompt ports.Prompt) (string, error) {
	payload := generateRequest{
		Model:  model.Name,
		Prompt: prompt.User,
		System: prompt.System,
	}
	options := map[string]any{}
	if model.Temperature != nil {
		options["temperature"] = *model.Temperature
	}
	if model.MaxTokens > 0 {
		options["num_predict"] = model.MaxTokens
	}
	if len(options) > 0 {
		payload.Options = options
	}

	var parsed generateResponse
	url := baseURL(provider.BaseURL, DefaultOllamaBaseURL) + "/api/generate"
	if err := c.post(ctx, providerName(provider), url, nil, payload, &parsed); err != nil {
		return "", err
	}
	return parsed.Response, nil
}

func (c *Client) post(ctx context.Context, provider, url string, headers map[string]string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}
	return nil
}

func baseURL(configured, fallback string) string {
	if configured == "" {
		return fallback
	}
	return strings.TrimRight(configured, "/")
}

func providerName(p ports.ProviderConfig) string {
	if p.Name != "" {
		return p.Name
	}
	if p.Type != "" {
		return p.Type
	}
	return TypeOpenAI
}
