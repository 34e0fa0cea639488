package http

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/flowchat"
	"github.com/aretw0/flowchat/pkg/adapters/memory"
	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/openai"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoFlow = `{
	"nodes": [
		{"id": "begin", "kind": "begin", "form": {"greeting": "Hello"}},
		{"id": "ask", "kind": "interface"},
		{"id": "route", "kind": "categorize", "form": {
			"default": "other",
			"categories": [{"label": "bye", "keywords": ["bye"]}, {"label": "other"}]
		}},
		{"id": "again", "kind": "interface"},
		{"id": "done", "kind": "interface"}
	],
	"edges": [
		{"source": "begin", "target": "ask"},
		{"source": "ask", "target": "route"},
		{"source": "route", "target": "done", "sourceHandle": "out-bye"},
		{"source": "route", "target": "again", "sourceHandle": "out-other"},
		{"source": "again", "target": "route"}
	]
}`

type harness struct {
	handler http.Handler
	streams *StreamManager
}

func newHarness(t *testing.T, opts ...Option) harness {
	t.Helper()
	streams := NewStreamManager(nil)
	ids := 0
	svc, err := flowchat.New(
		memory.NewLoader(map[string]string{"echo": echoFlow}),
		memory.NewStore(),
		flowchat.WithStateObserver(streams.Publish),
		flowchat.WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("c%d", ids)
		}),
	)
	require.NoError(t, err)
	return harness{
		handler: NewHandler(svc, append([]Option{WithStreams(streams), WithVersion("1.2.3")}, opts...)...),
		streams: streams,
	}
}

func (h harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthAndInfo(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])

	w = h.do(t, http.MethodGet, "/info", "")
	assert.Equal(t, "1.2.3", decode[map[string]string](t, w)["version"])
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodOptions, "/v1/chat/completions", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestChatCompletions(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/chat/completions", `{"flowId": "echo", "messages": []}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[openai.ChatCompletion](t, w)
	assert.Equal(t, "c1", first.ID)
	assert.Equal(t, "Hello", first.Choices[0].Message.Content)
	assert.Equal(t, domain.StatusCompleted, first.Status)

	w = h.do(t, http.MethodPost, "/v1/chat/completions",
		`{"flowId": "echo", "id": "c1", "messages": [{"role": "user", "content": "what?"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	next := decode[openai.ChatCompletion](t, w)
	assert.Equal(t, "again", next.Node.ID)
	assert.Equal(t, "other", next.Choices[0].Message.Content)
}

func TestChatCompletions_Errors(t *testing.T) {
	h := newHarness(t, WithMaxBodyBytes(256))

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantType string
	}{
		{"malformed JSON", `{"flowId":`, http.StatusBadRequest, "validation_error"},
		{"missing flow id", `{"messages": []}`, http.StatusBadRequest, "validation_error"},
		{"unknown role", `{"flowId": "echo", "messages": [{"role": "bot", "content": "x"}]}`, http.StatusBadRequest, "validation_error"},
		{"unknown flow", `{"flowId": "ghost"}`, http.StatusNotFound, "not_found"},
		{"body too large", `{"flowId": "echo", "messages": [{"role": "user", "content": "` + strings.Repeat("x", 300) + `"}]}`, http.StatusRequestEntityTooLarge, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/v1/chat/completions", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			body := decode[openai.ChatCompletion](t, w)
			assert.Equal(t, openai.ObjectCompletion, body.Object)
			assert.Equal(t, domain.StatusError, body.Status)
			require.Len(t, body.Choices, 1)
			require.NotNil(t, body.Choices[0].FinishReason)
			assert.Equal(t, openai.FinishError, *body.Choices[0].FinishReason)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.wantType, body.Error.Type)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestChatCompletions_Stream(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/chat/completions", `{"flowId": "echo", "stream": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.True(t, strings.HasSuffix(body, openai.DoneFrame))

	var chunks []openai.ChatCompletionChunk
	for _, frame := range strings.Split(strings.TrimSuffix(body, openai.DoneFrame), "\n\n") {
		if frame == "" {
			continue
		}
		var c openai.ChatCompletionChunk
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &c))
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "begin", chunks[0].Node.ID)
	assert.Equal(t, "ask", chunks[1].Node.ID)
	assert.Equal(t, openai.ObjectChunk, chunks[1].Object)
	assert.Equal(t, "c1", chunks[1].ID)
}

func TestChatCompletions_StreamRejectsBeforeStarting(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/chat/completions", `{"flowId": "ghost", "stream": true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	body := decode[openai.ChatCompletion](t, w)
	assert.Equal(t, "ghost", body.Model)
	require.NotNil(t, body.Choices[0].FinishReason)
	assert.Equal(t, openai.FinishError, *body.Choices[0].FinishReason)
}

func TestFlows(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/v1/flows", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"echo"}, decode[map[string][]string](t, w)["flows"])

	w = h.do(t, http.MethodGet, "/v1/flows/echo", "")
	require.Equal(t, http.StatusOK, w.Code)
	flow := decode[domain.Flow](t, w)
	assert.Len(t, flow.Nodes, 5)

	w = h.do(t, http.MethodGet, "/v1/flows/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetGraph(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/v1/flows/echo/graph", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "graph TD")
	assert.Contains(t, w.Body.String(), `route -- "bye" --> done`)
	assert.NotContains(t, w.Body.String(), "classDef")

	h.do(t, http.MethodPost, "/v1/chat/completions", `{"flowId": "echo"}`)
	w = h.do(t, http.MethodGet, "/v1/flows/echo/graph?conversation=c1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "class begin visited;")
	assert.Contains(t, w.Body.String(), "class ask current;")

	w = h.do(t, http.MethodGet, "/v1/flows/echo/graph?conversation=nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConversations(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/v1/chat/completions", `{"flowId": "echo"}`)

	w := h.do(t, http.MethodGet, "/v1/conversations", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"c1"}, decode[map[string][]string](t, w)["conversations"])

	w = h.do(t, http.MethodGet, "/v1/conversations/c1", "")
	require.Equal(t, http.StatusOK, w.Code)
	conv := decode[domain.Conversation](t, w)
	assert.Equal(t, "echo", conv.FlowID)
	assert.Equal(t, "ask", conv.State.CurrentNodeID)

	w = h.do(t, http.MethodDelete, "/v1/conversations/c1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(t, http.MethodGet, "/v1/conversations/c1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = h.do(t, http.MethodDelete, "/v1/conversations/c1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "flowchat_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := newHarness(t, WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	w := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "flowchat_test_total 1")

	w = newHarness(t).do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubscribeEvents(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	post := func(body string) {
		resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	post(`{"flowId": "echo"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/conversations/c1/events?watch=variables", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	readFrame := func() string {
		var b strings.Builder
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if line == "\n" {
				return b.String()
			}
			b.WriteString(line)
		}
	}
	assert.Contains(t, readFrame(), "data: connected")
	require.Eventually(t, func() bool { return h.streams.Subscribers("c1") == 1 }, time.Second, 10*time.Millisecond)

	post(`{"flowId": "echo", "id": "c1", "messages": [{"role": "user", "content": "bye"}]}`)

	frame := readFrame()
	assert.Contains(t, frame, "event: state")
	data := frame[strings.Index(frame, "data: ")+len("data: "):]
	var diff domain.StateDiff
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(data)), &diff))
	assert.Equal(t, "bye", diff.Variables[domain.VarUserInput])
	assert.Equal(t, "bye", diff.Variables[domain.VarCategory])
}

func TestSubscribeEvents_UnknownConversation(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/v1/conversations/ghost/events", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamManager(t *testing.T) {
	sm := NewStreamManager(nil)
	ch, unsubscribe := sm.Subscribe("c")
	assert.Equal(t, 1, sm.Subscribers("c"))

	diff := &domain.StateDiff{Variables: map[string]any{"a": 1}}
	for range subscriberBuffer + 5 {
		sm.Publish(context.Background(), "c", diff)
	}
	assert.Len(t, ch, subscriberBuffer, "overflowing diffs are dropped")

	sm.Publish(context.Background(), "other", diff)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, sm.Subscribers("c"))
}

func TestMatchesWatch(t *testing.T) {
	node := "ask"
	tests := []struct {
		name  string
		diff  domain.StateDiff
		watch []string
		want  bool
	}{
		{"no filter", domain.StateDiff{}, nil, true},
		{"variables", domain.StateDiff{Variables: map[string]any{"x": 1}}, []string{"variables"}, true},
		{"status", domain.StateDiff{CurrentNodeID: &node}, []string{"status"}, true},
		{"history", domain.StateDiff{Appended: []domain.HistoryEntry{{NodeID: "a"}}}, []string{"history"}, true},
		{"components", domain.StateDiff{Components: map[string]domain.ComponentOutput{"a": {}}}, []string{"components"}, true},
		{"unrelated", domain.StateDiff{CurrentNodeID: &node}, []string{"variables", "history"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesWatch(&tt.diff, tt.watch))
		})
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(&domain.ValidationError{Reason: "x"}))
	assert.Equal(t, http.StatusNotFound, StatusCode(fmt.Errorf("wrap: %w", domain.ErrFlowNotFound)))
	assert.Equal(t, http.StatusNotFound, StatusCode(domain.ErrConversationNotFound))
	assert.Equal(t, http.StatusGatewayTimeout, StatusCode(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(fmt.Errorf("disk full")))
}
