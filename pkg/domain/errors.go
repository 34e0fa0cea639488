package domain

import (
	"errors"
	"fmt"
)

// ErrConversationNotFound is returned when a conversation id cannot be found in the store.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrFlowNotFound is returned when a flow id is unknown to the loader.
var ErrFlowNotFound = errors.New("flow not found")

// ConfigurationError reports a flow that cannot be executed as defined.
// It aborts the turn and is never retried.
type ConfigurationError struct {
	NodeID string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.NodeID == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error at node %q: %s", e.NodeID, e.Reason)
}

// ValidationError reports a request or node input that cannot be processed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ProviderError wraps a failure of a model or retrieval provider.
type ProviderError struct {
	Provider string
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// InternalError wraps an unexpected handler failure, including recovered panics.
type InternalError struct {
	NodeID string
	Cause  error
}

func (e *InternalError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("internal error: %v", e.Cause)
	}
	return fmt.Sprintf("internal error at node %q: %v", e.NodeID, e.Cause)
}

func (e *InternalError) Unwrap() error { return e.Cause }

// ErrorType classifies err for error envelopes.
func ErrorType(err error) string {
	var (
		cfg  *ConfigurationError
		val  *ValidationError
		prov *ProviderError
	)
	switch {
	case errors.As(err, &cfg):
		return "configuration_error"
	case errors.As(err, &val):
		return "validation_error"
	case errors.As(err, &prov):
		return "provider_error"
	case errors.Is(err, ErrFlowNotFound), errors.Is(err, ErrConversationNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}
