/*
Package flowchat executes chat agents defined as flows: directed graphs of
typed nodes (begin, interface, generate, categorize, retrieval).

A Service runs one conversation turn per call. It resolves the turn input
from an OpenAI-style chat request, loads or creates the conversation, walks
the flow until an interface node pauses for the user (or the flow ends), and
returns the result as a chat-completion envelope. Stream delivers one chunk
per executed node.

# Usage

	loader := file.NewLoader("./flows")
	store := memory.NewStore()

	svc, err := flowchat.New(loader, store,
		flowchat.WithModels(catalog, llm.NewClient()),
		flowchat.WithRetrieval(index),
	)
	if err != nil {
		log.Fatal(err)
	}

	reply, err := svc.Chat(ctx, openai.ChatRequest{
		FlowID:   "support",
		Messages: []openai.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	})

Conversations are persisted through a ports.ConversationStore after every
turn; turns of the same conversation are serialized by the session manager.
*/
package flowchat
