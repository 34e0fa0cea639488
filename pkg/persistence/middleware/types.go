// Package middleware wraps a ConversationStore with privacy features:
// PII masking of variables and AES-GCM encryption of state and messages.
package middleware

import "github.com/aretw0/flowchat/pkg/ports"

// Middleware allows wrapping a ConversationStore to add behavior.
type Middleware func(ports.ConversationStore) ports.ConversationStore

// Chain applies the middlewares to store. The first middleware is the outermost.
func Chain(store ports.ConversationStore, mws ...Middleware) ports.ConversationStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
