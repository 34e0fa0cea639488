package ports

import (
	"context"

	"github.com/aretw0/flowchat/pkg/domain"
)

// SaveRequest carries one turn worth of persistence.
// An empty or unknown ConversationID creates a new conversation.
type SaveRequest struct {
	FlowID         string
	ConversationID string
	State          *domain.FlowState
	Messages       []domain.Message
}

// ConversationStore defines the interface for persisting conversations.
// State is replaced on every save; messages are appended.
type ConversationStore interface {
	// Save persists the state and appends messages, returning the conversation id.
	Save(ctx context.Context, req SaveRequest) (string, error)

	// Load retrieves a conversation by id.
	// Returns domain.ErrConversationNotFound if the conversation does not exist.
	Load(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// Delete removes the conversation. Deleting an unknown id is not an error.
	Delete(ctx context.Context, conversationID string) error

	// List returns the ids of the stored conversations.
	List(ctx context.Context) ([]string, error)
}
