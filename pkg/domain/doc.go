/*
Package domain contains the core models of the flowchat engine.

It defines the static flow graph, the per-conversation run-time state and the
results produced while executing nodes. This package is kept pure and free of
I/O, following Hexagonal Architecture principles.

# Key Entities

  - Flow: the graph definition (ordered nodes and edges).
  - Node: a typed step; its Form is a closed union with one type per NodeKind.
  - FlowState: the run-time record of a conversation (position, variables, components, history).
  - ExecutionResult: what a single node execution produced.
  - Conversation: the persistence shape of a flow run.
*/
package domain
