package orchestrator

import (
	"strings"
	"testing"

	"github.com/crowdthink/brainstorm/internal/domain"
	"github.com/crowdthink/brainstorm/internal/tokens"
)

func historySession(entries ...domain.TranscriptEntry) *domain.Session {
	return &domain.Session{
		ID: "s1",
		Participants: map[string]domain.Participant{
			"claude": {ModelID: "c"},
			"grok":   {ModelID: "g"},
		},
		Order:    []string{"claude", "grok"},
		Messages: entries,
	}
}

func TestBuildHistory_RolesAndPrefixes(t *testing.T) {
	e := &Engine{budgeter: tokens.NewBudgeter(0)}
	sess := historySession(
		domain.TranscriptEntry{Speaker: "user", Content: "what about tidal?"},
		domain.TranscriptEntry{Speaker: "claude", Content: "tidal is predictable"},
		domain.TranscriptEntry{Speaker: "grok", Content: "but expensive"},
	)

	history := e.buildHistory(sess, "grok")
	if len(history) != 2 {
		t.Fatalf("expected 2 merged messages, got %d: %+v", len(history), history)
	}

	// user + claude collapse into one user turn, each line speaker-prefixed
	first := history[0]
	if first.Role != "user" {
		t.Errorf("expected user role, got %q", first.Role)
	}
	if !strings.Contains(first.Content, "[USER]: what about tidal?") {
		t.Errorf("missing user prefix: %q", first.Content)
	}
	if !strings.Contains(first.Content, "[CLAUDE]: tidal is predictable") {
		t.Errorf("missing claude prefix: %q", first.Content)
	}

	// grok's own entry is an unprefixed assistant turn
	second := history[1]
	if second.Role != "assistant" || second.Content != "but expensive" {
		t.Errorf("own entries must be plain assistant turns: %+v", second)
	}
}

func TestBuildHistory_SkipsFailedEntries(t *testing.T) {
	e := &Engine{budgeter: tokens.NewBudgeter(0)}
	sess := historySession(
		domain.TranscriptEntry{Speaker: "user", Content: "go"},
		domain.TranscriptEntry{Speaker: "grok", ErrorDetail: "rate_limited (grok): slow down"},
	)

	history := e.buildHistory(sess, "claude")
	if len(history) != 1 {
		t.Fatalf("expected failure markers to be skipped, got %+v", history)
	}
}

func TestBuildHistory_TruncatesOldest(t *testing.T) {
	e := &Engine{budgeter: tokens.NewBudgeter(30)}
	sess := historySession(
		domain.TranscriptEntry{Speaker: "user", Content: strings.Repeat("old filler text ", 40)},
		domain.TranscriptEntry{Speaker: "claude", Content: "short reply"},
		domain.TranscriptEntry{Speaker: "user", Content: "the recent question"},
	)

	history := e.buildHistory(sess, "claude")
	last := history[len(history)-1]
	if !strings.Contains(last.Content, "the recent question") {
		t.Errorf("newest message must survive truncation: %+v", history)
	}
	for _, m := range history {
		if strings.Contains(m.Content, "old filler") {
			t.Errorf("oldest message should have been dropped: %+v", history)
		}
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	got := buildSystemPrompt(domain.FormatDebate, "you are the skeptic")
	if !strings.Contains(got, "debate") {
		t.Errorf("missing format directive: %q", got)
	}
	if !strings.HasSuffix(got, "you are the skeptic") {
		t.Errorf("participant prompt must follow the directive: %q", got)
	}

	if got := buildSystemPrompt(domain.FormatDiscussion, ""); got == "" {
		t.Error("directive alone should still produce a prompt")
	}
	if got := buildSystemPrompt(domain.Format("unknown"), "solo"); got != "solo" {
		t.Errorf("unknown format should pass the participant prompt through: %q", got)
	}
}
