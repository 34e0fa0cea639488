/*
Package ports defines the driven ports (interfaces) of the flowchat engine.

These interfaces decouple the execution engine from storage backends, flow
sources and the model and retrieval services it calls.

# Key Interfaces

  - FlowLoader: loads flow definitions (files, memory).
  - ConversationStore: persists conversations (state blob plus message rows).
  - ModelCatalog and ModelProvider: resolve and call language models.
  - RetrievalProvider: searches knowledge bases.
  - DistributedLocker: serializes turns of one conversation across replicas.
*/
package ports
