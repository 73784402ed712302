// Package session implements the brainstorm session state machine: lifecycle
// transitions and the transcript append rules. All session mutation in the
// engine goes through this package so the transcript invariants hold under
// concurrent access.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crowdthink/brainstorm/internal/domain"
)

// NewParams are the inputs to session creation.
type NewParams struct {
	Principal    string
	Topic        string
	Description  string
	Participants map[string]domain.Participant
	Order        []string
	Settings     domain.Settings
}

// New creates a session in the active state. Order fixes the round
// invocation order and must cover exactly the participant keys.
func New(p NewParams) (*domain.Session, error) {
	if p.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if len(p.Participants) == 0 {
		return nil, fmt.Errorf("at least one participant is required")
	}
	if len(p.Order) == 0 {
		return nil, fmt.Errorf("participant order is required")
	}
	if len(p.Order) != len(p.Participants) {
		return nil, fmt.Errorf("participant order must list every participant exactly once")
	}
	for _, role := range p.Order {
		if _, ok := p.Participants[role]; !ok {
			return nil, fmt.Errorf("unknown participant %q in order", role)
		}
		if role == domain.SpeakerUser {
			return nil, fmt.Errorf("%q is reserved for the human speaker", domain.SpeakerUser)
		}
	}
	if p.Settings.MaxTurns <= 0 {
		return nil, fmt.Errorf("max turns must be positive")
	}
	if p.Settings.Format == "" {
		p.Settings.Format = domain.FormatDiscussion
	}

	now := time.Now().UTC()
	return &domain.Session{
		ID:           uuid.New().String(),
		Principal:    p.Principal,
		Topic:        p.Topic,
		Description:  p.Description,
		Participants: p.Participants,
		Order:        append([]string(nil), p.Order...),
		Messages:     []domain.TranscriptEntry{},
		Status:       domain.StatusActive,
		Settings:     p.Settings,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Pause suspends scheduling of new rounds. Legal only from active; an
// in-flight generation is unaffected and still persists when it completes.
func Pause(s *domain.Session) error {
	if s.Status != domain.StatusActive {
		return domain.ErrInvalidTransition("pause", s.Status)
	}
	s.Status = domain.StatusPaused
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Resume reactivates a paused session. Any continue request queued before the
// pause is dropped, not deferred: resuming requires a fresh trigger.
func Resume(s *domain.Session) error {
	if s.Status != domain.StatusPaused {
		return domain.ErrInvalidTransition("resume", s.Status)
	}
	s.Status = domain.StatusActive
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Stop completes the session. Legal from any non-terminal state; an in-flight
// generation finishes but no further round is scheduled.
func Stop(s *domain.Session) error {
	if s.Status.Terminal() {
		return domain.ErrInvalidTransition("stop", s.Status)
	}
	s.Status = domain.StatusCompleted
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Retry returns an errored session to active so the failed round can be
// re-attempted.
func Retry(s *domain.Session) error {
	if s.Status != domain.StatusError {
		return domain.ErrInvalidTransition("retry", s.Status)
	}
	s.Status = domain.StatusActive
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// NewUserEntry builds a transcript entry for a human message.
func NewUserEntry(content string) domain.TranscriptEntry {
	return domain.TranscriptEntry{
		ID:        uuid.New().String(),
		Speaker:   domain.SpeakerUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// AppendUserMessage appends a human entry. The turn counter never advances
// for user entries.
func AppendUserMessage(s *domain.Session, entry domain.TranscriptEntry) error {
	if s.Status != domain.StatusActive {
		return domain.ErrInvalidTransition("submit message", s.Status)
	}
	if entry.Speaker != domain.SpeakerUser {
		return fmt.Errorf("user entry has speaker %q", entry.Speaker)
	}
	s.Messages = append(s.Messages, entry)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordTurn appends a completed provider entry. The turn counter advances
// once per round, i.e. when the final participant in invocation order
// completes; reaching MaxTurns auto-completes the session in that round.
// Legal from active and paused, since a pause does not cancel an in-flight
// generation and its result still persists.
func RecordTurn(s *domain.Session, entry domain.TranscriptEntry) error {
	if s.Status != domain.StatusActive && s.Status != domain.StatusPaused {
		return domain.ErrInvalidTransition("record turn", s.Status)
	}
	if _, ok := s.Participants[entry.Speaker]; !ok {
		return fmt.Errorf("entry speaker %q is not a participant", entry.Speaker)
	}
	s.Messages = append(s.Messages, entry)
	if entry.Speaker == s.LastParticipant() {
		s.CurrentTurn++
		if s.CurrentTurn >= s.Settings.MaxTurns {
			s.Status = domain.StatusCompleted
		}
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordFailure appends an error-marker entry for the failed speaker and
// moves the session to error, so the transcript shows which participants
// answered before the round aborted. Legal from active and paused (a pause
// does not cancel an in-flight generation).
func RecordFailure(s *domain.Session, speaker string, cause *domain.EngineError) error {
	if s.Status.Terminal() || s.Status == domain.StatusError {
		return domain.ErrInvalidTransition("record failure", s.Status)
	}
	detail := cause.Error()
	if cause.Detail != "" {
		// Preserve the raw backend payload for diagnosis.
		detail += ": " + cause.Detail
	}
	s.Messages = append(s.Messages, domain.TranscriptEntry{
		ID:          uuid.New().String(),
		Speaker:     speaker,
		ErrorDetail: detail,
		Timestamp:   time.Now().UTC(),
	})
	s.Status = domain.StatusError
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// CanStartRound reports whether a new orchestration round may be scheduled.
func CanStartRound(s *domain.Session) error {
	if s.Status != domain.StatusActive {
		return domain.ErrInvalidTransition("start round", s.Status)
	}
	return nil
}
