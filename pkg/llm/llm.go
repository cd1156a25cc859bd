// Package llm defines the completion client interface and its provider
// implementations.
package llm

import "context"

// ChatMessage is one message in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed (non-streaming) model response.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}

// StreamChunk is one increment of a streaming response. Exactly one of
// Content, Done, or Err is meaningful per chunk; the channel closes
// after Done or Err.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// Client is a chat completion provider.
type Client interface {
	// Complete sends the messages and blocks for the full response.
	Complete(ctx context.Context, messages []ChatMessage) (*Response, error)

	// StreamComplete sends the messages and returns a channel of
	// incremental chunks. Cancel the context to abort the stream.
	StreamComplete(ctx context.Context, messages []ChatMessage) (<-chan StreamChunk, error)

	// ProviderName identifies the backing provider.
	ProviderName() string
}
