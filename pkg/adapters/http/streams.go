package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/flowchat/internal/logging"
	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// subscriberBuffer is the number of diffs queued per subscriber before drops.
const subscriberBuffer = 16

// StreamManager fans state diffs out to the SSE subscribers of each conversation.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *domain.StateDiff]struct{} // conversation id -> channels
	logger      *slog.Logger
}

// NewStreamManager creates an empty StreamManager.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan *domain.StateDiff]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a subscriber of a conversation.
// The returned function unsubscribes and closes the channel.
func (sm *StreamManager) Subscribe(conversationID string) (<-chan *domain.StateDiff, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan *domain.StateDiff, subscriberBuffer)
	if _, ok := sm.subscribers[conversationID]; !ok {
		sm.subscribers[conversationID] = make(map[chan *domain.StateDiff]struct{})
	}
	sm.subscribers[conversationID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			subs := sm.subscribers[conversationID]
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, conversationID)
			}
		})
	}
}

// Subscribers returns the number of subscribers of a conversation.
func (sm *StreamManager) Subscribers(conversationID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[conversationID])
}

// Publish delivers diff to the subscribers of a conversation.
// Subscribers with a full buffer miss the diff.
func (sm *StreamManager) Publish(ctx context.Context, conversationID string, diff *domain.StateDiff) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[conversationID] {
		select {
		case ch <- diff:
		default:
			sm.logger.WarnContext(ctx, "SSE: Client buffer full, dropping diff", "conversation_id", conversationID)
		}
	}
}

// SubscribeEvents handles GET /v1/conversations/{conversationID}/events.
//
// The optional watch parameter is a comma-separated list of variables,
// components, history and status; diffs touching none of them are skipped.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, fmt.Errorf("streaming not supported"))
		return
	}
	conversationID := chi.URLParam(r, "conversationID")
	if _, err := s.Service.Conversation(r.Context(), conversationID); err != nil {
		s.writeError(w, r, err)
		return
	}

	var watch []string
	if raw := r.URL.Query().Get("watch"); raw != "" {
		for _, field := range strings.Split(raw, ",") {
			watch = append(watch, strings.TrimSpace(field))
		}
	}

	ch, cancel := s.Streams.Subscribe(conversationID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.DebugContext(r.Context(), "SSE: Subscribed to conversation", "conversation_id", conversationID)

	for {
		select {
		case <-r.Context().Done():
			s.logger.DebugContext(r.Context(), "SSE: Client disconnected", "conversation_id", conversationID)
			return
		case diff, ok := <-ch:
			if !ok {
				return
			}
			if !matchesWatch(diff, watch) {
				continue
			}
			data, err := json.Marshal(diff)
			if err != nil {
				s.logger.ErrorContext(r.Context(), "SSE: Diff encode failed", "err", err)
				continue
			}
			fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func matchesWatch(diff *domain.StateDiff, watch []string) bool {
	if len(watch) == 0 {
		return true
	}
	for _, field := range watch {
		switch field {
		case "variables":
			if len(diff.Variables) > 0 {
				return true
			}
		case "components":
			if len(diff.Components) > 0 {
				return true
			}
		case "history":
			if len(diff.Appended) > 0 {
				return true
			}
		case "status":
			if diff.CurrentNodeID != nil || diff.Completed != nil {
				return true
			}
		}
	}
	return false
}
