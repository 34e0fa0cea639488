// Package retrieval provides an HTTP client for an external knowledge-base search service.
//
// The service receives POST {baseURL}/search with
//
//	{"knowledgeBaseId": "...", "query": "...", "limit": 5, "threshold": 0.2}
//
// and answers with {"hits": [{"text", "source", "similarity", "metadata"}]}.
package retrieval

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

	"github.com/aretw0/flowchat/pkg/ports"
)

// ErrKnowledgeBaseNotFound is returned when the service answers 404.
var ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")

const defaultTimeout = 15 * time.Second

// StatusError is a non-2xx response from the search service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search service returned status %d: %s", e.StatusCode, e.Body)
}

// Client implements ports.RetrievalProvider against the search service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ ports.RetrievalProvider = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	KnowledgeBaseID string  `json:"knowledgeBaseId"`
	Query           string  `json:"query"`
	Limit           int     `json:"limit,omitempty"`
	Threshold       float64 `json:"threshold,omitempty"`
}

type searchResponse struct {
	Hits []ports.Hit `json:"hits"`
}

// Search queries one knowledge base.
func (c *Client) Search(ctx context.Context, knowledgeBaseID, query string, opts ports.SearchOptions) ([]ports.Hit, error) {
	data, err := json.Marshal(searchRequest{
		KnowledgeBaseID: knowledgeBaseID,
		Query:           query,
		Limit:           opts.Limit,
		Threshold:       opts.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrKnowledgeBaseNotFound, knowledgeBaseID)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if parsed.Hits == nil {
		parsed.Hits = []ports.Hit{}
	}
	return parsed.Hits, nil
}
