package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type fakeCatalog struct{}

func (fakeCatalog) Resolve(_ context.Context, ref string) (ports.ProviderConfig, ports.ModelConfig, error) {
	if ref == "" {
		ref = "default-model"
	}
	return ports.ProviderConfig{Name: "fake", Type: "openai"}, ports.ModelConfig{Name: ref}, nil
}

// fakeModel echoes the user prompt unless reply is set.
type fakeModel struct {
	mu      sync.Mutex
	prompts []ports.Prompt
	models  []ports.ModelConfig
	reply   func(ports.Prompt) (string, error)
}

func (m *fakeModel) Complete(_ context.Context, _ ports.ProviderConfig, model ports.ModelConfig, prompt ports.Prompt) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.models = append(m.models, model)
	m.mu.Unlock()
	if m.reply != nil {
		return m.reply(prompt)
	}
	return prompt.User, nil
}

func (m *fakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type fakeRetrieval struct {
	mu      sync.Mutex
	hits    map[string][]ports.Hit
	err     error
	queries []string
}

func (r *fakeRetrieval) Search(_ context.Context, kb, query string, _ ports.SearchOptions) ([]ports.Hit, error) {
	r.mu.Lock()
	r.queries = append(r.queries, kb+":"+query)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.hits[kb], nil
}

func (r *fakeRetrieval) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

func newTestEngine(t *testing.T, deps Dependencies, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{WithClock(func() time.Time { return testNow })}, opts...)
	e, err := NewEngine(deps, opts...)
	require.NoError(t, err)
	return e
}

func userSays(text string) domain.MessagePart {
	return domain.MessagePart{Role: domain.RoleUser, Content: text}
}

func chain(ids ...string) []domain.Edge {
	edges := make([]domain.Edge, 0, len(ids))
	for i := 0; i+1 < len(ids); i++ {
		edges = append(edges, domain.Edge{Source: ids[i], Target: ids[i+1]})
	}
	return edges
}

// echoFlow is begin("Hi") -> ask -> gen("Echo: {{userInput}}") -> reply.
func echoFlow() *domain.Flow {
	return &domain.Flow{
		ID: "echo",
		Nodes: []domain.Node{
			{ID: "begin", Kind: domain.KindBegin, Form: domain.BeginForm{Greeting: "Hi"}},
			{ID: "ask", Kind: domain.KindInterface},
			{ID: "gen", Kind: domain.KindGenerate, Form: domain.GenerateForm{Prompt: "Echo: {{userInput}}"}},
			{ID: "reply", Kind: domain.KindInterface},
		},
		Edges: chain("begin", "ask", "gen", "reply"),
	}
}

// branchFlow routes through a categorize node with labels billing and support.
func branchFlow() *domain.Flow {
	return &domain.Flow{
		ID: "branch",
		Nodes: []domain.Node{
			{ID: "begin", Kind: domain.KindBegin, Form: domain.BeginForm{Greeting: "How can I help?"}},
			{ID: "ask", Kind: domain.KindInterface},
			{ID: "route", Kind: domain.KindCategorize, Form: domain.CategorizeForm{
				Categories: []domain.Category{
					{Label: "billing", Keywords: []string{"invoice", "refund"}},
					{Label: "support"},
				},
				Default: "support",
			}},
			{ID: "billing", Kind: domain.KindInterface},
			{ID: "support", Kind: domain.KindInterface},
		},
		Edges: []domain.Edge{
			{Source: "begin", Target: "ask"},
			{Source: "ask", Target: "route"},
			{Source: "route", Target: "billing", SourceHandle: "out-billing"},
			{Source: "route", Target: "support", SourceHandle: "out-support"},
		},
	}
}
