// Package http exposes a flow Service over an OpenAI-compatible HTTP API.
//
// POST /v1/chat/completions answers with a chat completion, or with a stream of
// server-sent chunks when the request sets "stream": true. The remaining routes
// inspect flows and conversations and stream conversation state changes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/flowchat/internal/logging"
	"github.com/aretw0/flowchat/internal/presentation/graph"
	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/openai"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultMaxBodyBytes bounds the size of request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Service is the flow runtime served by the handler.
type Service interface {
	Chat(ctx context.Context, req openai.ChatRequest) (*openai.ChatCompletion, error)
	Stream(ctx context.Context, req openai.ChatRequest, emit func(*openai.ChatCompletionChunk) error) error
	Flows() ([]string, error)
	Flow(id string) (*domain.Flow, error)
	Conversation(ctx context.Context, id string) (*domain.Conversation, error)
	Conversations(ctx context.Context) ([]string, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Server holds the HTTP handlers.
type Server struct {
	Service Service
	Streams *StreamManager

	logger   *slog.Logger
	metrics  http.Handler
	version  string
	maxBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStreams shares a StreamManager with the service that publishes state changes.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithVersion sets the version reported by GET /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithMaxBodyBytes bounds request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		s.maxBytes = n
	}
}

// NewHandler creates the HTTP handler for svc.
func NewHandler(svc Service, opts ...Option) http.Handler {
	s := &Server{
		Service:  svc,
		logger:   logging.NewNop(),
		version:  "dev",
		maxBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", s.ChatCompletions)
		r.Get("/flows", s.ListFlows)
		r.Get("/flows/{flowID}", s.GetFlow)
		r.Get("/flows/{flowID}/graph", s.GetGraph)
		r.Get("/conversations", s.ListConversations)
		r.Get("/conversations/{conversationID}", s.GetConversation)
		r.Delete("/conversations/{conversationID}", s.DeleteConversation)
		r.Get("/conversations/{conversationID}/events", s.SubscribeEvents)
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ChatCompletions handles POST /v1/chat/completions.
func (s *Server) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBytes)).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.writeChatError(w, r, req, http.StatusRequestEntityTooLarge, &domain.ValidationError{
				Field:  "body",
				Reason: fmt.Sprintf("request body exceeds %d bytes", mbe.Limit),
			})
			return
		}
		verr := &domain.ValidationError{Field: "body", Reason: fmt.Sprintf("invalid JSON: %v", err)}
		s.writeChatError(w, r, req, StatusCode(verr), verr)
		return
	}
	if req.Stream {
		s.streamCompletions(w, r, req)
		return
	}

	completion, err := s.Service.Chat(r.Context(), req)
	if err != nil {
		s.writeChatError(w, r, req, StatusCode(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, completion)
}

func (s *Server) streamCompletions(w http.ResponseWriter, r *http.Request, req openai.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		err := errors.New("streaming not supported")
		s.writeChatError(w, r, req, StatusCode(err), err)
		return
	}

	started := false
	conversationID := req.ID
	start := func() {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		started = true
	}

	err := s.Service.Stream(r.Context(), req, func(chunk *openai.ChatCompletionChunk) error {
		if !started {
			start()
		}
		conversationID = chunk.ID
		if err := openai.WriteEvent(w, chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	if err != nil {
		if !started {
			s.writeChatError(w, r, req, StatusCode(err), err)
			return
		}
		if r.Context().Err() != nil {
			s.logger.DebugContext(r.Context(), "SSE client disconnected", "conversation_id", conversationID)
			return
		}
		s.logger.ErrorContext(r.Context(), "Chat stream failed", "conversation_id", conversationID, "err", err)
		_ = openai.WriteEvent(w, openai.Transformer{}.ErrorChunk(conversationID, req.FlowID, err))
	}
	if !started {
		start()
	}
	_ = openai.WriteDone(w)
	flusher.Flush()
}

// ListFlows handles GET /v1/flows.
func (s *Server) ListFlows(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Service.Flows()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string][]string{"flows": ids})
}

// GetFlow handles GET /v1/flows/{flowID}.
func (s *Server) GetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.Service.Flow(chi.URLParam(r, "flowID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, flow)
}

// GetGraph handles GET /v1/flows/{flowID}/graph.
// With ?conversation=<id> the nodes visited by that conversation are highlighted.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	flow, err := s.Service.Flow(chi.URLParam(r, "flowID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var overlay *graph.Overlay
	if id := r.URL.Query().Get("conversation"); id != "" {
		conv, err := s.Service.Conversation(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		overlay = graph.OverlayFromState(conv.State)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(graph.GenerateMermaid(flow, overlay)))
}

// ListConversations handles GET /v1/conversations.
func (s *Server) ListConversations(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Service.Conversations(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string][]string{"conversations": ids})
}

// GetConversation handles GET /v1/conversations/{conversationID}.
func (s *Server) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.Service.Conversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, conv)
}

// DeleteConversation handles DELETE /v1/conversations/{conversationID}.
func (s *Server) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.Service.DeleteConversation(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"app":     "flowchat",
		"version": strings.TrimSpace(s.version),
	})
}

// errorResponse is the body of non-2xx responses outside the chat endpoint.
type errorResponse struct {
	Error openai.ErrorBody `json:"error"`
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	var val *domain.ValidationError
	switch {
	case errors.As(err, &val):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrFlowNotFound), errors.Is(err, domain.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	s.logFailure(r, status, err)
	s.writeJSON(w, r, status, errorResponse{Error: openai.ErrorBody{Message: err.Error(), Type: domain.ErrorType(err)}})
}

// writeChatError answers a chat request that failed before any node ran with
// an error completion.
func (s *Server) writeChatError(w http.ResponseWriter, r *http.Request, req openai.ChatRequest, status int, err error) {
	s.logFailure(r, status, err)
	s.writeJSON(w, r, status, openai.Transformer{}.ErrorCompletion(req.ID, req.FlowID, err))
}

func (s *Server) logFailure(r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "err", err)
		return
	}
	s.logger.DebugContext(r.Context(), "Request rejected", "path", r.URL.Path, "status", status, "err", err)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.ErrorContext(r.Context(), "Response encode failed", "path", r.URL.Path, "err", err)
	}
}
