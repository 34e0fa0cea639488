package ports

import (
	"context"
)

// ProviderConfig describes how to reach a model backend.
type ProviderConfig struct {
	Name    string
	Type    string // "openai" or "ollama"
	BaseURL string
	APIKey  string
}

// ModelConfig holds the model name and sampling parameters for one call.
type ModelConfig struct {
	Name        string
	Temperature *float64
	MaxTokens   int
}

// Prompt is the rendered input of a model call.
type Prompt struct {
	System string
	User   string
}

// ModelCatalog resolves the model reference of a node into provider and model configuration.
// An empty reference resolves to the catalog default.
type ModelCatalog interface {
	Resolve(ctx context.Context, modelRef string) (ProviderConfig, ModelConfig, error)
}

// ModelProvider performs a single, synchronous completion.
type ModelProvider interface {
	Complete(ctx context.Context, provider ProviderConfig, model ModelConfig, prompt Prompt) (string, error)
}

// SearchOptions bounds a retrieval query.
type SearchOptions struct {
	Limit     int
	Threshold float64
}

// Hit is a single retrieval result.
type Hit struct {
	Text       string         `json:"text"`
	Source     string         `json:"source"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RetrievalProvider searches one knowledge base.
type RetrievalProvider interface {
	Search(ctx context.Context, knowledgeBaseID, query string, opts SearchOptions) ([]Hit, error)
}
