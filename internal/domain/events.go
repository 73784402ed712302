package domain

// StreamEventType identifies the phase of an in-flight generation.
type StreamEventType string

const (
	// StreamStart opens a generation: a speaker is about to produce output.
	StreamStart StreamEventType = "start"

	// StreamChunk carries a partial text fragment.
	StreamChunk StreamEventType = "chunk"

	// StreamComplete closes a generation with its persisted entry. It is
	// published only after the store write succeeds, so subscribers never
	// need to poll for the final transcript.
	StreamComplete StreamEventType = "complete"

	// StreamError closes a generation with a failure.
	StreamError StreamEventType = "error"
)

// StreamEvent is the transient event relayed to subscribers during one
// generation. It is never persisted; the completed TranscriptEntry
// supersedes it.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	SessionID string          `json:"session_id"`
	MessageID string          `json:"message_id"`
	Speaker   string          `json:"speaker"`

	// Content is set for chunk events.
	Content string `json:"content,omitempty"`

	// Entry is set for complete events and mirrors the persisted entry.
	Entry *TranscriptEntry `json:"entry,omitempty"`

	// Err is set for error events.
	Err *EngineError `json:"error,omitempty"`
}

// Terminal reports whether the event closes its generation.
func (e StreamEvent) Terminal() bool {
	return e.Type == StreamComplete || e.Type == StreamError
}
