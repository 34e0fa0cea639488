package ports

import "github.com/aretw0/flowchat/pkg/domain"

// FlowLoader defines how flow definitions are retrieved.
// This allows the storage layer (files, memory) to be decoupled from the engine.
type FlowLoader interface {
	// GetFlow returns the flow with the given id.
	// Returns domain.ErrFlowNotFound if the id is unknown.
	GetFlow(id string) (*domain.Flow, error)

	// ListFlows returns the ids of all available flows, sorted.
	ListFlows() ([]string, error)
}
