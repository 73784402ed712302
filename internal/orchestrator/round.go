package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/crowdthink/brainstorm/internal/artifact"
	"github.com/crowdthink/brainstorm/internal/domain"
	"github.com/crowdthink/brainstorm/internal/session"
	"github.com/crowdthink/brainstorm/internal/storage"
)

// formatDirectives scaffold each participant's system prompt with the
// session's discussion style.
var formatDirectives = map[domain.Format]string{
	domain.FormatDiscussion: "You are taking part in an open brainstorm. Build on the other speakers' ideas and keep responses conversational.",
	domain.FormatStructured: "You are taking part in a structured working session. Organize your response with clear headings and numbered points.",
	domain.FormatCreative:   "You are taking part in a creative ideation session. Favor bold, unconventional ideas over safe ones.",
	domain.FormatDebate:     "You are taking part in a debate. Take a clear position, argue it, and engage directly with opposing points.",
	domain.FormatAnalysis:   "You are taking part in an analytical review. Weigh trade-offs explicitly and support claims with reasoning.",
}

// runRound makes one sequential pass over the participant list. Each
// completed generation is persisted before its terminal event is published;
// the first failure records an error marker, moves the session to error, and
// aborts the remaining participants.
func (e *Engine) runRound(ctx context.Context, sessionID string, attachments []domain.Attachment) {
	ctx, span := e.tracer.Start(ctx, "orchestrator.round",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		e.logger.Error("round aborted: cannot load session",
			slog.String("session_id", sessionID), slog.Any("error", err))
		return
	}

	for _, speaker := range sess.Order {
		// Re-read between generations: a pause or stop that landed while
		// the previous speaker was generating ends the round here.
		sess, err = e.store.Get(ctx, sessionID)
		if err != nil {
			e.logger.Error("round aborted: cannot reload session",
				slog.String("session_id", sessionID), slog.Any("error", err))
			return
		}
		if sess.Status != domain.StatusActive {
			e.logger.Info("round ended early",
				slog.String("session_id", sessionID),
				slog.String("status", string(sess.Status)))
			return
		}

		if !e.runGeneration(ctx, sess, speaker, attachments) {
			return
		}
		// Attachments accompany only the first generation of the round.
		attachments = nil
	}
}

// runGeneration invokes one participant and commits the outcome. It reports
// whether the round may proceed to the next participant.
func (e *Engine) runGeneration(ctx context.Context, sess *domain.Session, speaker string, attachments []domain.Attachment) bool {
	ctx, span := e.tracer.Start(ctx, "orchestrator.generate",
		trace.WithAttributes(
			attribute.String("session.id", sess.ID),
			attribute.String("speaker", speaker)))
	defer span.End()

	prov, err := e.providers.Lookup(speaker)
	if err != nil {
		e.failRound(ctx, sess.ID, speaker, domain.ErrServer(err.Error()).WithSpeaker(speaker))
		return false
	}

	participant := sess.Participants[speaker]
	messageID := uuid.New().String()

	e.publisher.Publish(ctx, domain.StreamEvent{
		Type:      domain.StreamStart,
		SessionID: sess.ID,
		MessageID: messageID,
		Speaker:   speaker,
	})

	opts := domain.GenerateOptions{
		Model:        participant.ModelID,
		SystemPrompt: buildSystemPrompt(sess.Settings.Format, participant.SystemPrompt),
		MaxTokens:    sess.Settings.MaxTokens,
		Temperature:  sess.Settings.Temperature,
		Attachments:  attachments,
	}
	history := e.buildHistory(sess, speaker)

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	started := time.Now()
	result, err := prov.Generate(callCtx, history, opts, func(text string) {
		e.publisher.Publish(ctx, domain.StreamEvent{
			Type:      domain.StreamChunk,
			SessionID: sess.ID,
			MessageID: messageID,
			Speaker:   speaker,
			Content:   text,
		})
	})
	if err != nil {
		e.failRound(ctx, sess.ID, speaker, domain.AsEngineError(err).WithSpeaker(speaker))
		return false
	}

	content, artifacts := artifact.Extract(result.Content)
	usage := result.Usage
	entry := domain.TranscriptEntry{
		ID:        messageID,
		Speaker:   speaker,
		Content:   content,
		Artifacts: artifacts,
		Tokens:    &usage,
		Timestamp: time.Now().UTC(),
	}

	if _, err := storage.AppendEntry(ctx, e.store, sess.ID, func(s *domain.Session) error {
		return session.RecordTurn(s, entry)
	}); err != nil {
		if domain.IsKind(err, domain.ErrorKindInvalidTransition) {
			// A stop landed while this speaker was generating: the session
			// is already terminal, so the result is discarded quietly rather
			// than reported as a round failure.
			e.logger.Info("discarding generation for ended session",
				slog.String("session_id", sess.ID),
				slog.String("speaker", speaker))
			return false
		}
		e.failRound(ctx, sess.ID, speaker, domain.AsEngineError(err).WithSpeaker(speaker))
		return false
	}

	// Only now, with the entry durable, does the terminal event go out.
	e.publisher.Publish(ctx, domain.StreamEvent{
		Type:      domain.StreamComplete,
		SessionID: sess.ID,
		MessageID: messageID,
		Speaker:   speaker,
		Entry:     &entry,
	})

	e.logger.Info("generation complete",
		slog.String("session_id", sess.ID),
		slog.String("speaker", speaker),
		slog.String("model", result.ModelID),
		slog.Int("artifacts", len(artifacts)),
		slog.Duration("duration", time.Since(started)))
	return true
}

// failRound persists the failure marker and then publishes the error event.
func (e *Engine) failRound(ctx context.Context, sessionID, speaker string, cause *domain.EngineError) {
	if _, err := storage.AppendEntry(ctx, e.store, sessionID, func(s *domain.Session) error {
		return session.RecordFailure(s, speaker, cause)
	}); err != nil {
		e.logger.Error("failed to record round failure",
			slog.String("session_id", sessionID),
			slog.String("speaker", speaker),
			slog.Any("error", err))
	}

	e.publisher.Publish(ctx, domain.StreamEvent{
		Type:      domain.StreamError,
		SessionID: sessionID,
		Speaker:   speaker,
		Err:       cause,
	})

	e.logger.Warn("round aborted",
		slog.String("session_id", sessionID),
		slog.String("speaker", speaker),
		slog.String("kind", string(cause.Kind)))
}

// buildSystemPrompt prefixes the participant's stored prompt with the
// session's format directive.
func buildSystemPrompt(format domain.Format, participantPrompt string) string {
	directive := formatDirectives[format]
	if participantPrompt == "" {
		return directive
	}
	if directive == "" {
		return participantPrompt
	}
	return directive + "\n\n" + participantPrompt
}

// buildHistory renders the transcript for one participant, oldest first.
// The participant's own entries become assistant turns; everything else is a
// "[SPEAKER]: content" user turn. Failed entries are skipped, consecutive
// same-role turns are merged (some backends require strict alternation), and
// the result is truncated to the engine's token budget, newest kept.
func (e *Engine) buildHistory(sess *domain.Session, speaker string) []domain.Message {
	var history []domain.Message
	for _, entry := range sess.Messages {
		if entry.Failed() {
			continue
		}

		var msg domain.Message
		if entry.Speaker == speaker {
			msg = domain.Message{Role: "assistant", Content: entry.Content}
		} else {
			msg = domain.Message{
				Role:    "user",
				Content: "[" + strings.ToUpper(entry.Speaker) + "]: " + entry.Content,
			}
		}

		if n := len(history); n > 0 && history[n-1].Role == msg.Role {
			history[n-1].Content += "\n\n" + msg.Content
			continue
		}
		history = append(history, msg)
	}

	return e.budgeter.Truncate(history)
}
