package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aretw0/flowchat/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestClient_OpenAI(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`))
	}))
	defer srv.Close()

	provider := ports.ProviderConfig{Name: "openai", Type: TypeOpenAI, BaseURL: srv.URL + "/v1/", APIKey: "sk-test"}
	model := ports.ModelConfig{Name: "gpt-4o-mini", Temperature: ptr(0.3), MaxTokens: 32}

	out, err := NewClient().Complete(context.Background(), provider, model, ports.Prompt{System: "be brief", User: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", out)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "be brief"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "ping"}, got.Messages[1])
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.3, *got.Temperature, 1e-9)
	assert.Equal(t, 32, got.MaxTokens)
}

func TestClient_OpenAINoSystemPrompt(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()

	out, err := NewClient().Complete(context.Background(), ports.ProviderConfig{BaseURL: srv.URL}, ports.ModelConfig{Name: "local"}, ports.Prompt{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	require.Len(t, got.Messages, 1)
	assert.Nil(t, got.Temperature)
}

func TestClient_OpenAINoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	provider := ports.ProviderConfig{Name: "local", BaseURL: srv.URL}
	out, err := NewClient().Complete(context.Background(), provider, ports.ModelConfig{Name: "m"}, ports.Prompt{User: "hi"})
	require.ErrorIs(t, err, ErrNoChoices)
	assert.Contains(t, err.Error(), "local")
	assert.Empty(t, out)
}

func TestClient_Ollama(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"response":"hello from llama","done":true}`))
	}))
	defer srv.Close()

	provider := ports.ProviderConfig{Name: "local", Type: TypeOllama, BaseURL: srv.URL}
	model := ports.ModelConfig{Name: "llama3", Temperature: ptr(0.0), MaxTokens: 10}

	out, err := NewClient().Complete(context.Background(), provider, model, ports.Prompt{System: "sys", User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello from llama", out)
	assert.Equal(t, "llama3", got["model"])
	assert.Equal(t, "hi", got["prompt"])
	assert.Equal(t, "sys", got["system"])
	assert.Equal(t, false, got["stream"])
	assert.Equal(t, map[string]any{"temperature": 0.0, "num_predict": 10.0}, got["options"])
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient().Complete(context.Background(), ports.ProviderConfig{Name: "openai", BaseURL: srv.URL}, ports.ModelConfig{Name: "m"}, ports.Prompt{User: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "openai", apiErr.Provider)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, `{"error":"rate limited"}`, apiErr.Body)
}

func TestClient_UnknownType(t *testing.T) {
	_, err := NewClient().Complete(context.Background(), ports.ProviderConfig{Type: "bard"}, ports.ModelConfig{}, ports.Prompt{})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient().Complete(ctx, ports.ProviderConfig{BaseURL: srv.URL}, ports.ModelConfig{}, ports.Prompt{User: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
