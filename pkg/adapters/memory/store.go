package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
	"github.com/google/uuid"
)

// Store implements ports.ConversationStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.Conversation
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.Conversation),
	}
}

var _ ports.ConversationStore = (*Store)(nil)

// Save persists the state and appends the messages.
func (s *Store) Save(ctx context.Context, req ports.SaveRequest) (string, error) {
	now := time.Now().UTC()
	id := req.ConversationID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.data[id]
	if !ok {
		conv = &domain.Conversation{ID: id, FlowID: req.FlowID, CreatedAt: now}
		s.data[id] = conv
	}
	// Copy on write so the caller can keep mutating its values.
	conv.State = req.State.Clone()
	conv.Messages = append(conv.Messages, req.Messages...)
	conv.UpdatedAt = now
	return id, nil
}

// Load retrieves a conversation from memory.
func (s *Store) Load(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.data[conversationID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}

	// Copy on read so the caller can't mutate the stored conversation by pointer.
	ret := *conv
	ret.State = conv.State.Clone()
	ret.Messages = slices.Clone(conv.Messages)
	return &ret, nil
}

// Delete removes the conversation.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, conversationID)
	return nil
}

// List returns the stored conversation ids, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
