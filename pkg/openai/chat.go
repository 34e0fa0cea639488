// Package openai shapes engine results as OpenAI chat-completion envelopes.
//
// Non-streaming calls produce one ChatCompletion. Streaming calls produce one
// ChatCompletionChunk per executed node, framed as server-sent events and
// terminated by the [DONE] sentinel.
package openai

import (
	"time"

	"github.com/aretw0/flowchat/pkg/domain"
)

// Object names of the envelopes.
const (
	ObjectCompletion = "chat.completion"
	ObjectChunk      = "chat.completion.chunk"
)

// Finish reasons.
const (
	FinishStop  = "stop"
	FinishError = "error"
)

// ChatMessage is an incoming message of a chat request.
type ChatMessage struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// ChatRequest is the body of POST /v1/chat/completions.
// ID continues an existing conversation; when empty a new one is created.
type ChatRequest struct {
	FlowID    string         `json:"flowId"`
	ID        string         `json:"id,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Stream    bool           `json:"stream,omitempty"`
	Messages  []ChatMessage  `json:"messages"`
}

// LastUserMessage returns the content of the most recent user message.
func (r ChatRequest) LastUserMessage() (string, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == domain.RoleUser {
			return r.Messages[i].Content, true
		}
	}
	return "", false
}

// Message is the content of a choice.
type Message struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// Choice is a non-streaming choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason *string `json:"finish_reason"`
}

// ChunkChoice is a streaming choice.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Message `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ErrorBody describes a failure inside an envelope.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Extensions are fields outside the OpenAI schema carried by every envelope.
type Extensions struct {
	Status domain.ExecutionStatus `json:"status"`
	Node   *domain.NodeInfo       `json:"node,omitempty"`
	Error  *ErrorBody             `json:"error,omitempty"`
}

// ChatCompletion is the non-streaming envelope.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Extensions
}

// ChatCompletionChunk is the streaming envelope.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Extensions
}

// Transformer maps execution results to envelopes.
// The zero value is ready to use and stamps envelopes with the current time.
type Transformer struct {
	Now func() time.Time
}

func (t Transformer) created() int64 {
	if t.Now != nil {
		return t.Now().Unix()
	}
	return time.Now().Unix()
}

// Completion builds the non-streaming envelope of res.
func (t Transformer) Completion(conversationID, flowID string, res *domain.ExecutionResult) *ChatCompletion {
	msg, ext, finish := fromResult(res)
	return &ChatCompletion{
		ID:         conversationID,
		Object:     ObjectCompletion,
		Created:    t.created(),
		Model:      flowID,
		Choices:    []Choice{{Index: 0, Message: msg, FinishReason: finish}},
		Extensions: ext,
	}
}

// Chunk builds the streaming envelope of res.
func (t Transformer) Chunk(conversationID, flowID string, res *domain.ExecutionResult) *ChatCompletionChunk {
	msg, ext, finish := fromResult(res)
	return &ChatCompletionChunk{
		ID:         conversationID,
		Object:     ObjectChunk,
		Created:    t.created(),
		Model:      flowID,
		Choices:    []ChunkChoice{{Index: 0, Delta: msg, FinishReason: finish}},
		Extensions: ext,
	}
}

// ErrorCompletion builds a non-streaming envelope for a failure that happened
// before or outside node execution.
func (t Transformer) ErrorCompletion(conversationID, flowID string, err error) *ChatCompletion {
	finish := FinishError
	return &ChatCompletion{
		ID:      conversationID,
		Object:  ObjectCompletion,
		Created: t.created(),
		Model:   flowID,
		Choices: []Choice{{Index: 0, Message: Message{Role: domain.RoleAssistant}, FinishReason: &finish}},
		Extensions: Extensions{
			Status: domain.StatusError,
			Error:  &ErrorBody{Message: err.Error(), Type: domain.ErrorType(err)},
		},
	}
}

// ErrorChunk is the streaming counterpart of ErrorCompletion.
func (t Transformer) ErrorChunk(conversationID, flowID string, err error) *ChatCompletionChunk {
	finish := FinishError
	return &ChatCompletionChunk{
		ID:      conversationID,
		Object:  ObjectChunk,
		Created: t.created(),
		Model:   flowID,
		Choices: []ChunkChoice{{Index: 0, Delta: Message{Role: domain.RoleAssistant}, FinishReason: &finish}},
		Extensions: Extensions{
			Status: domain.StatusError,
			Error:  &ErrorBody{Message: err.Error(), Type: domain.ErrorType(err)},
		},
	}
}

func fromResult(res *domain.ExecutionResult) (Message, Extensions, *string) {
	node := res.NodeInfo
	msg := Message{Role: node.Role, Content: res.Execution.Output}
	ext := Extensions{Status: res.Status, Node: &node}

	var finish *string
	switch res.Status {
	case domain.StatusCompleted:
		f := FinishStop
		finish = &f
	case domain.StatusError:
		f := FinishError
		finish = &f
		ext.Error = &ErrorBody{Message: res.Message, Type: "execution_error"}
	}
	return msg, ext, finish
}
