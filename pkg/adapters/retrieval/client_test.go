package retrieval

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

func TestClient_Search(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer kb-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"hits":[
			{"text":"Refunds take 5 days.","source":"billing.md","similarity":0.91,"metadata":{"page":2}},
			{"text":"Invoices are monthly.","source":"billing.md","similarity":0.4}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", WithAPIKey("kb-key"))
	hits, err := client.Search(context.Background(), "billing", "refund", ports.SearchOptions{Limit: 3, Threshold: 0.2})
	require.NoError(t, err)

	assert.Equal(t, searchRequest{KnowledgeBaseID: "billing", Query: "refund", Limit: 3, Threshold: 0.2}, got)
	require.Len(t, hits, 2)
	assert.Equal(t, "Refunds take 5 days.", hits[0].Text)
	assert.InDelta(t, 0.91, hits[0].Similarity, 1e-9)
	assert.Equal(t, 2.0, hits[0].Metadata["page"])
}

func TestClient_EmptyHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	hits, err := NewClient(srv.URL).Search(context.Background(), "kb", "q", ports.SearchOptions{})
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.KnowledgeBaseID == "missing" {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "index offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	client := NewClient(srv.URL)

	_, err := client.Search(context.Background(), "missing", "q", ports.SearchOptions{})
	assert.ErrorIs(t, err, ErrKnowledgeBaseNotFound)

	_, err = client.Search(context.Background(), "docs", "q", ports.SearchOptions{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, "index offline", statusErr.Body)
}
