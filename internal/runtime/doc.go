// Package runtime executes flows one conversation turn at a time.
//
// The Engine walks the graph from the conversation's current node, dispatching
// each node to the handler of its kind, until an interface node pauses the turn,
// the flow ends or a node fails. Handlers never modify the state they are given:
// their writes come back as a delta that the engine folds into a new FlowState.
package runtime
