package domain

import (
	"context"
)

// Message is one turn of rendered conversation history handed to a provider
// adapter. Role is "user" or "assistant" from the target participant's point
// of view.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions carries per-call generation parameters.
type GenerateOptions struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
	Attachments  []Attachment
}

// ChunkFunc receives partial output during a streaming generation. It is
// invoked zero or more times before Generate returns; the concatenation of
// all chunks equals the final content.
type ChunkFunc func(text string)

// GenerateResult is the normalized outcome of one adapter call.
type GenerateResult struct {
	Content string
	Usage   TokenUsage
	ModelID string

	// UsageEstimated stays false when the backend omitted usage: counts are
	// then zero, never fabricated.
	UsageEstimated bool
}

// Provider is the adapter contract implemented once per AI backend. Adapters
// are stateless; passing a nil onChunk selects blocking mode. Both modes
// must agree on the final content, and backend failures must surface as
// EngineError kinds, never raw transport errors.
type Provider interface {
	Name() string
	Generate(ctx context.Context, history []Message, opts GenerateOptions, onChunk ChunkFunc) (*GenerateResult, error)
}

// Publisher relays stream events to session-scoped subscribers. The engine
// depends on this abstraction, not on any particular transport.
type Publisher interface {
	Publish(ctx context.Context, event StreamEvent)
}
