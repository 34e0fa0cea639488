package flowchat_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/flowchat"
	"github.com/aretw0/flowchat/pkg/adapters/memory"
	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/observability"
	"github.com/aretw0/flowchat/pkg/openai"
	"github.com/aretw0/flowchat/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

type stubCatalog struct{}

func (stubCatalog) Resolve(_ context.Context, ref string) (ports.ProviderConfig, ports.ModelConfig, error) {
	return ports.ProviderConfig{Name: "stub", Type: "openai"}, ports.ModelConfig{Name: ref}, nil
}

// stubModel echoes the user prompt unless fail is set.
type stubModel struct {
	fail error
}

func (m stubModel) Complete(_ context.Context, _ ports.ProviderConfig, _ ports.ModelConfig, p ports.Prompt) (string, error) {
	if m.fail != nil {
		return "", m.fail
	}
	return p.User, nil
}

// loopFlow greets, then echoes every user message back through a generate node.
func loopFlow() *domain.Flow {
	return &domain.Flow{
		ID: "echo",
		Nodes: []domain.Node{
			{ID: "begin", Kind: domain.KindBegin, Form: domain.BeginForm{
				Greeting:  "Hi {{name}}",
				Variables: []domain.VariableDecl{{Key: "name", Value: "guest"}},
			}},
			{ID: "ask", Kind: domain.KindInterface},
			{ID: "gen", Kind: domain.KindGenerate, Form: domain.GenerateForm{Prompt: "Echo: {{userInput}}"}},
		},
		Edges: []domain.Edge{
			{Source: "begin", Target: "ask"},
			{Source: "ask", Target: "gen"},
			{Source: "gen", Target: "ask"},
		},
	}
}

// oneShotFlow ends after the first user message.
func oneShotFlow() *domain.Flow {
	return &domain.Flow{
		ID: "oneshot",
		Nodes: []domain.Node{
			{ID: "begin", Kind: domain.KindBegin, Form: domain.BeginForm{Greeting: "Say something"}},
			{ID: "ask", Kind: domain.KindInterface},
		},
		Edges: []domain.Edge{{Source: "begin", Target: "ask"}},
	}
}

// brokenFlow has a generate node with nowhere to go.
func brokenFlow() *domain.Flow {
	return &domain.Flow{
		ID: "broken",
		Nodes: []domain.Node{
			{ID: "begin", Kind: domain.KindBegin, Form: domain.BeginForm{Greeting: "Hi"}},
			{ID: "ask", Kind: domain.KindInterface},
			{ID: "gen", Kind: domain.KindGenerate, Form: domain.GenerateForm{Prompt: "{{userInput}}"}},
		},
		Edges: []domain.Edge{
			{Source: "begin", Target: "ask"},
			{Source: "ask", Target: "gen"},
		},
	}
}

type fixture struct {
	svc   *flowchat.Service
	store *memory.Store
}

func newFixture(t *testing.T, opts ...flowchat.Option) fixture {
	t.Helper()
	loader, err := memory.NewFromFlows(loopFlow(), oneShotFlow(), brokenFlow())
	require.NoError(t, err)
	store := memory.NewStore()

	ids := 0
	base := []flowchat.Option{
		flowchat.WithModels(stubCatalog{}, stubModel{}),
		flowchat.WithClock(func() time.Time { return fixedNow }),
		flowchat.WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("conv-%d", ids)
		}),
	}
	svc, err := flowchat.New(loader, store, append(base, opts...)...)
	require.NoError(t, err)
	return fixture{svc: svc, store: store}
}

func user(text string) []openai.ChatMessage {
	return []openai.ChatMessage{{Role: domain.RoleUser, Content: text}}
}

func TestNew_RequiresAdapters(t *testing.T) {
	_, err := flowchat.New(nil, memory.NewStore())
	assert.Error(t, err)

	_, err = flowchat.New(memory.NewLoader(nil), nil)
	assert.Error(t, err)
}

func TestChat_FirstTurnGreetsAndPauses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "echo"})
	require.NoError(t, err)

	assert.Equal(t, "conv-1", reply.ID)
	assert.Equal(t, "echo", reply.Model)
	assert.Equal(t, openai.ObjectCompletion, reply.Object)
	assert.Equal(t, fixedNow.Unix(), reply.Created)
	assert.Equal(t, domain.StatusCompleted, reply.Status)
	require.Len(t, reply.Choices, 1)
	assert.Equal(t, "Hi guest", reply.Choices[0].Message.Content)
	require.NotNil(t, reply.Choices[0].FinishReason)
	assert.Equal(t, openai.FinishStop, *reply.Choices[0].FinishReason)
	assert.Equal(t, "ask", reply.Node.ID)

	conv, err := f.store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "echo", conv.FlowID)
	assert.Equal(t, "ask", conv.State.CurrentNodeID)
	assert.False(t, conv.State.Completed)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "Hi guest", conv.Messages[0].Content)
}

func TestChat_ContinuesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "echo"})
	require.NoError(t, err)

	reply, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "echo", ID: first.ID, Messages: user("hello")})
	require.NoError(t, err)
	assert.Equal(t, first.ID, reply.ID)
	assert.Equal(t, "Echo: hello", reply.Choices[0].Message.Content)
	assert.Equal(t, domain.RoleAssistant, reply.Choices[0].Message.Role)

	conv, err := f.store.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", conv.State.Variables[domain.VarUserInput])
	assert.Equal(t, "ask", conv.State.CurrentNodeID)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, domain.RoleUser, conv.Messages[1].Role)
	assert.Equal(t, "hello", conv.Messages[1].Content)
	assert.Equal(t, "Echo: hello", conv.Messages[2].Content)
}

func TestChat_UsesLastUserMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "echo"})
	require.NoError(t, err)

	reply, err := f.svc.Chat(ctx, openai.ChatRequest{
		FlowID: "echo",
		ID:     first.ID,
		Messages: []openai.ChatMessage{
			{Role: domain.RoleUser, Content: "old"},
			{Role: domain.RoleAssistant, Content: "Echo: old"},
			{Role: domain.RoleUser, Content: "new"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Echo: new", reply.Choices[0].Message.Content)
}

func TestChat_MergesRequestVariables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "echo", Variables: map[string]any{"name": "Ada"}})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", first.Choices[0].Message.Content)

	_, err = f.svc.Chat(ctx, openai.ChatRequest{
		FlowID:    "echo",
		ID:        first.ID,
		Variables: map[string]any{"tier": "gold"},
		Messages:  user("hi"),
	})
	require.NoError(t, err)

	conv, err := f.store.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", conv.State.Variables["name"])
	assert.Equal(t, "gold", conv.State.Variables["tier"])
}

func TestChat_CallerProvidedID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "echo", ID: "mine"})
	require.NoError(t, err)
	assert.Equal(t, "mine", reply.ID)

	_, err = f.store.Load(ctx, "mine")
	assert.NoError(t, err)
}

func TestChat_RejectsBadRequests(t *testing.T) {
	f := newFixture(t, flowchat.WithMaxInputSize(8))
	ctx := context.Background()

	first, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "echo"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  openai.ChatRequest
	}{
		{name: "missing flow id", req: openai.ChatRequest{Messages: user("hi")}},
		{name: "unknown role", req: openai.ChatRequest{FlowID: "echo", Messages: []openai.ChatMessage{{Role: "robot", Content: "x"}}}},
		{name: "input too large", req: openai.ChatRequest{FlowID: "echo", Messages: user(strings.Repeat("a", 9))}},
		{name: "invalid UTF-8", req: openai.ChatRequest{FlowID: "echo", Messages: user("\xff")}},
		{name: "conversation of another flow", req: openai.ChatRequest{FlowID: "oneshot", ID: first.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Chat(ctx, tt.req)
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.Equal(t, "validation_error", domain.ErrorType(err))
		})
	}

	t.Run("unknown flow", func(t *testing.T) {
		_, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "ghost"})
		assert.ErrorIs(t, err, domain.ErrFlowNotFound)
	})

	conv, err := f.store.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1, "rejected requests must not touch the conversation")
}

func TestChat_ConfigurationErrorIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "broken"})
	require.NoError(t, err)

	reply, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "broken", ID: first.ID, Messages: user("go")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, reply.Status)
	require.NotNil(t, reply.Error)
	assert.Equal(t, "configuration_error", reply.Error.Type)
	assert.Equal(t, openai.FinishError, *reply.Choices[0].FinishReason)

	conv, err := f.store.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "ask", conv.State.CurrentNodeID)
	assert.NotContains(t, conv.State.Variables, domain.VarUserInput)
	require.Len(t, conv.Messages, 1, "only the greeting is stored")
	assert.Equal(t, "Hi", conv.Messages[0].Content)
}

func TestChat_ProviderFailureIsAnErrorResult(t *testing.T) {
	f := newFixture(t, flowchat.WithModels(stubCatalog{}, stubModel{fail: errors.New("boom")}))
	ctx := context.Background()

	first, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "echo"})
	require.NoError(t, err)

	reply, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "echo", ID: first.ID, Messages: user("hi")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, reply.Status)
	assert.Equal(t, "gen", reply.Node.ID)
	require.NotNil(t, reply.Error)
	assert.Equal(t, "execution_error", reply.Error.Type)
	assert.Contains(t, reply.Error.Message, "boom")
}

func TestChat_CompletedFlowStartsOver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "oneshot"})
	require.NoError(t, err)

	done, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "oneshot", ID: first.ID, Messages: user("bye")})
	require.NoError(t, err)
	assert.Equal(t, "bye", done.Choices[0].Message.Content)

	conv, err := f.store.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, conv.State.Completed)

	again, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "oneshot", ID: first.ID})
	require.NoError(t, err)
	assert.Equal(t, "Say something", again.Choices[0].Message.Content)

	conv, err = f.store.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, conv.State.Completed)
	assert.Equal(t, "bye", conv.State.Variables[domain.VarUserInput], "variables survive a restart")
}

func TestChat_SerializesTurnsOfOneConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "echo"})
	require.NoError(t, err)

	const turns = 20
	var wg sync.WaitGroup
	for i := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "echo", ID: first.ID, Messages: user(fmt.Sprintf("m%d", i))})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	conv, err := f.store.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1+2*turns)
	assert.Equal(t, 0, f.svc.Sessions().ActiveLocks())
}

func TestChat_NotifiesObserversAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	var mu sync.Mutex
	var diffs []*domain.StateDiff
	f := newFixture(t,
		flowchat.WithMetrics(metrics),
		flowchat.WithStateObserver(func(_ context.Context, id string, diff *domain.StateDiff) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, "conv-1", id)
			diffs = append(diffs, diff)
		}),
	)

	_, err = f.svc.Chat(context.Background(), openai.ChatRequest{FlowID: "echo"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, diffs, 1)
	require.NotNil(t, diffs[0].CurrentNodeID)
	assert.Equal(t, "ask", *diffs[0].CurrentNodeID)
	assert.Equal(t, "guest", diffs[0].Variables["name"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Turns.WithLabelValues("echo", string(domain.StatusCompleted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NodeVisits.WithLabelValues(string(domain.KindBegin), string(domain.StatusInProgress))))
}

func TestStream_EmitsOneChunkPerNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var chunks []*openai.ChatCompletionChunk
	collect := func(c *openai.ChatCompletionChunk) error {
		chunks = append(chunks, c)
		return nil
	}

	require.NoError(t, f.svc.Stream(ctx, openai.ChatRequest{FlowID: "echo", Stream: true}, collect))
	require.Len(t, chunks, 2)
	assert.Equal(t, "begin", chunks[0].Node.ID)
	assert.Nil(t, chunks[0].Choices[0].FinishReason)
	assert.Equal(t, "ask", chunks[1].Node.ID)
	assert.Equal(t, openai.ObjectChunk, chunks[1].Object)
	assert.Equal(t, openai.FinishStop, *chunks[1].Choices[0].FinishReason)

	chunks = nil
	req := openai.ChatRequest{FlowID: "echo", ID: "conv-1", Stream: true, Messages: user("yo")}
	require.NoError(t, f.svc.Stream(ctx, req, collect))
	require.Len(t, chunks, 3)
	assert.Equal(t, "yo", chunks[0].Choices[0].Delta.Content)
	assert.Equal(t, "Echo: yo", chunks[1].Choices[0].Delta.Content)
	assert.Equal(t, "Echo: yo", chunks[2].Choices[0].Delta.Content)
	for _, c := range chunks {
		assert.Equal(t, "conv-1", c.ID)
	}

	conv, err := f.store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 3)
}

func TestStream_ConfigurationErrorEndsWithErrorChunk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "broken"})
	require.NoError(t, err)

	var chunks []*openai.ChatCompletionChunk
	err = f.svc.Stream(ctx, openai.ChatRequest{FlowID: "broken", ID: "conv-1", Messages: user("go")}, func(c *openai.ChatCompletionChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.Equal(t, domain.StatusError, last.Status)
	assert.Equal(t, "gen", last.Node.ID)
	assert.Equal(t, openai.FinishError, *last.Choices[0].FinishReason)
}

func TestStream_StopsWhenDeliveryFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	calls := 0
	err := f.svc.Stream(ctx, openai.ChatRequest{FlowID: "echo"}, func(*openai.ChatCompletionChunk) error {
		calls++
		return errors.New("client went away")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	conv, err := f.store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "ask", conv.State.CurrentNodeID)
	assert.Contains(t, conv.State.Components, "begin")
}

func TestStream_RejectsBeforeEmitting(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Stream(context.Background(), openai.ChatRequest{FlowID: "ghost"}, func(*openai.ChatCompletionChunk) error {
		t.Fatal("emit must not be called")
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrFlowNotFound)
}

func TestConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Chat(ctx, openai.ChatRequest{FlowID: "echo"})
	require.NoError(t, err)

	ids, err := f.svc.Conversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-1"}, ids)

	conv, err := f.svc.Conversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "echo", conv.FlowID)

	require.NoError(t, f.svc.DeleteConversation(ctx, "conv-1"))
	_, err = f.svc.Conversation(ctx, "conv-1")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	assert.ErrorIs(t, f.svc.DeleteConversation(ctx, "conv-1"), domain.ErrConversationNotFound)
}

func TestFlows(t *testing.T) {
	f := newFixture(t)

	ids, err := f.svc.Flows()
	require.NoError(t, err)
	assert.Equal(t, []string{"broken", "echo", "oneshot"}, ids)

	flow, err := f.svc.Flow("echo")
	require.NoError(t, err)
	assert.Len(t, flow.Nodes, 3)
}
