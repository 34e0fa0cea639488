package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter      EventType = "node_enter"
	EventNodeLeave      EventType = "node_leave"
	EventProviderCall   EventType = "provider_call"
	EventProviderReturn EventType = "provider_return"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp      time.Time `json:"timestamp"`
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
}

// NodeEvent represents entry or exit from a node.
// Status and Duration are only set on leave.
type NodeEvent struct {
	EventBase
	NodeID   string          `json:"node_id"`
	NodeKind NodeKind        `json:"node_kind"`
	Status   ExecutionStatus `json:"status,omitempty"`
	Duration time.Duration   `json:"duration,omitempty"`
}

// ProviderEvent represents a call to a model or retrieval provider.
type ProviderEvent struct {
	EventBase
	NodeID   string        `json:"node_id"`
	Provider string        `json:"provider"`
	Target   string        `json:"target"`
	Duration time.Duration `json:"duration,omitempty"`
	IsError  bool          `json:"is_error,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnNodeEnter      func(context.Context, *NodeEvent)
	OnNodeLeave      func(context.Context, *NodeEvent)
	OnProviderCall   func(context.Context, *ProviderEvent)
	OnProviderReturn func(context.Context, *ProviderEvent)
}

// Merge returns hooks that invoke h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeEnter:      chain(h.OnNodeEnter, other.OnNodeEnter),
		OnNodeLeave:      chain(h.OnNodeLeave, other.OnNodeLeave),
		OnProviderCall:   chain(h.OnProviderCall, other.OnProviderCall),
		OnProviderReturn: chain(h.OnProviderReturn, other.OnProviderReturn),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
