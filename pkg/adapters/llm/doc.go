// Package llm provides model providers for generate and categorize nodes.
//
// Client speaks two wire protocols selected by ProviderConfig.Type:
// OpenAI-compatible "/chat/completions" (the default) and Ollama
// "/api/generate". Catalog resolves the model reference of a node into the
// provider and model configuration built from the application config.
package llm
