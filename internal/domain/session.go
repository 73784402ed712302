// Package domain holds the canonical types shared by the brainstorm engine:
// sessions, transcript entries, artifacts, stream events, and the provider
// adapter contract.
package domain

import (
	"time"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further transitions are legal from this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// Format selects the discussion style used to scaffold participant prompts.
type Format string

const (
	FormatDiscussion Format = "discussion"
	FormatStructured Format = "structured"
	FormatCreative   Format = "creative"
	FormatDebate     Format = "debate"
	FormatAnalysis   Format = "analysis"
)

// SpeakerUser is the reserved speaker key for human entries. All other
// speaker values name a configured participant role.
const SpeakerUser = "user"

// Participant configures one AI backend taking part in a session.
type Participant struct {
	ModelID      string `json:"model_id"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// Settings are the per-session generation defaults, fixed at creation.
type Settings struct {
	Format      Format  `json:"format"`
	MaxTurns    int     `json:"max_turns"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

// Session is one persisted multi-party discussion. All mutation goes through
// the session state machine; callers never write fields directly.
type Session struct {
	ID          string `json:"id"`
	Principal   string `json:"principal,omitempty"`
	Topic       string `json:"topic"`
	Description string `json:"description,omitempty"`

	// Participants maps speaker role (e.g. "claude", "grok") to its
	// configuration. Order holds the invocation order for a round, since
	// map iteration order is not stable.
	Participants map[string]Participant `json:"participants"`
	Order        []string               `json:"order"`

	// Messages is append-only. Entries are never edited or reordered;
	// regeneration appends, deletion is whole-session only.
	Messages []TranscriptEntry `json:"messages"`

	CurrentTurn int      `json:"current_turn"`
	Status      Status   `json:"status"`
	Settings    Settings `json:"settings"`

	// Version is the optimistic-concurrency token maintained by the store.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant order helper: the final provider speaker of a round.
func (s *Session) LastParticipant() string {
	if len(s.Order) == 0 {
		return ""
	}
	return s.Order[len(s.Order)-1]
}

// Clone returns a deep copy, so stores can hand out snapshots without
// aliasing the caller's slices.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Participants = make(map[string]Participant, len(s.Participants))
	for k, v := range s.Participants {
		out.Participants[k] = v
	}
	out.Order = append([]string(nil), s.Order...)
	out.Messages = make([]TranscriptEntry, len(s.Messages))
	for i := range s.Messages {
		out.Messages[i] = s.Messages[i].Clone()
	}
	return &out
}

// TranscriptEntry is one immutable message in a session transcript.
type TranscriptEntry struct {
	ID        string      `json:"id"`
	Speaker   string      `json:"speaker"`
	Content   string      `json:"content"`
	Artifacts []Artifact  `json:"artifacts,omitempty"`
	Tokens    *TokenUsage `json:"tokens,omitempty"`

	// ErrorDetail marks a failed generation: which speaker failed and why.
	// Empty for successful entries.
	ErrorDetail string `json:"error_detail,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a deep copy of the entry.
func (e TranscriptEntry) Clone() TranscriptEntry {
	out := e
	out.Artifacts = append([]Artifact(nil), e.Artifacts...)
	if e.Tokens != nil {
		usage := *e.Tokens
		out.Tokens = &usage
	}
	return out
}

// Failed reports whether the entry records a generation failure.
func (e TranscriptEntry) Failed() bool {
	return e.ErrorDetail != ""
}

// TokenUsage carries backend-reported token counts.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ArtifactType classifies an extracted artifact.
type ArtifactType string

const (
	ArtifactCode     ArtifactType = "code"
	ArtifactReact    ArtifactType = "react"
	ArtifactMarkdown ArtifactType = "markdown"
	ArtifactSVG      ArtifactType = "svg"
	ArtifactHTML     ArtifactType = "html"
	ArtifactPlain    ArtifactType = "plain"
)

// ValidArtifactType reports whether t is one of the known artifact types.
func ValidArtifactType(t ArtifactType) bool {
	switch t {
	case ArtifactCode, ArtifactReact, ArtifactMarkdown, ArtifactSVG, ArtifactHTML, ArtifactPlain:
		return true
	}
	return false
}

// Artifact is a structured sub-block lifted out of a provider response.
// Produced only by the extractor, never hand-edited.
type Artifact struct {
	Type     ArtifactType `json:"type"`
	Title    string       `json:"title,omitempty"`
	Language string       `json:"language,omitempty"`
	Content  string       `json:"content"`
}

// AttachmentKind classifies a user-supplied attachment.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is user-supplied input forwarded to provider adapters. Backends
// that cannot accept a given kind substitute a textual placeholder instead of
// failing the call.
type Attachment struct {
	Kind      AttachmentKind `json:"kind"`
	Name      string         `json:"name,omitempty"`
	MediaType string         `json:"media_type,omitempty"`
	// Data is base64-encoded content for image attachments, raw text for
	// document attachments.
	Data string `json:"data"`
}

// Placeholder renders the textual stand-in used when a backend cannot accept
// the attachment kind.
func (a Attachment) Placeholder() string {
	name := a.Name
	if name == "" {
		name = "unnamed"
	}
	if a.MediaType != "" {
		return "[attachment " + name + " (" + a.MediaType + ") omitted: not supported by this backend]"
	}
	return "[attachment " + name + " omitted: not supported by this backend]"
}
