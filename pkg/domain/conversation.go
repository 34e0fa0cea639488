package domain

import "time"

// Message is a persisted chat message of a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is the persistence shape of a flow run.
type Conversation struct {
	ID        string     `json:"id"`
	FlowID    string     `json:"flowId"`
	State     *FlowState `json:"state"`
	Messages  []Message  `json:"messages"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
