package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/crowdthink/brainstorm/internal/domain"
	"github.com/crowdthink/brainstorm/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(id string) *domain.Session {
	return &domain.Session{
		ID:        id,
		Principal: "alice",
		Topic:     "renewable energy",
		Participants: map[string]domain.Participant{
			"claude": {ModelID: "claude-3-haiku-20240307", SystemPrompt: "be concise"},
			"grok":   {ModelID: "grok-3"},
		},
		Order:    []string{"claude", "grok"},
		Status:   domain.StatusActive,
		Settings: domain.Settings{Format: domain.FormatDiscussion, MaxTurns: 3, Temperature: 0.7},
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession("s1")
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Topic != "renewable energy" || got.Version != 1 {
		t.Errorf("unexpected session: %+v", got)
	}
	if len(got.Participants) != 2 || got.Participants["claude"].SystemPrompt != "be concise" {
		t.Errorf("participants did not round-trip: %+v", got.Participants)
	}
	if len(got.Order) != 2 || got.Order[0] != "claude" {
		t.Errorf("order did not round-trip: %v", got.Order)
	}
	if got.Settings.MaxTurns != 3 {
		t.Errorf("settings did not round-trip: %+v", got.Settings)
	}
}

func TestGetUnknownSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	if !domain.IsKind(err, domain.ErrorKindSessionNotFound) {
		t.Errorf("expected session_not_found, got %v", err)
	}
}

func TestSaveAppendsEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession("s1")
	if err := s.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	sess.Messages = append(sess.Messages,
		domain.TranscriptEntry{
			ID: "m1", Speaker: "user", Content: "let's begin",
			Timestamp: time.Now().UTC(),
		},
		domain.TranscriptEntry{
			ID: "m2", Speaker: "claude", Content: "solar first",
			Artifacts: []domain.Artifact{{Type: domain.ArtifactCode, Title: "calc", Language: "python", Content: "x = 1"}},
			Tokens:    &domain.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			Timestamp: time.Now().UTC(),
		},
	)
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if sess.Version != 2 {
		t.Errorf("expected version 2, got %d", sess.Version)
	}

	// second save with one more entry only appends the new row
	sess.Messages = append(sess.Messages, domain.TranscriptEntry{
		ID: "m3", Speaker: "grok", Content: "wind too",
		ErrorDetail: "",
		Timestamp:   time.Now().UTC(),
	})
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got.Messages))
	}
	if got.Messages[0].ID != "m1" || got.Messages[1].ID != "m2" || got.Messages[2].ID != "m3" {
		t.Errorf("entries out of order: %+v", got.Messages)
	}
	if len(got.Messages[1].Artifacts) != 1 || got.Messages[1].Artifacts[0].Language != "python" {
		t.Errorf("artifacts did not round-trip: %+v", got.Messages[1].Artifacts)
	}
	if got.Messages[1].Tokens == nil || got.Messages[1].Tokens.TotalTokens != 15 {
		t.Errorf("tokens did not round-trip: %+v", got.Messages[1].Tokens)
	}
	if got.Messages[0].Tokens != nil {
		t.Errorf("user entry should have no tokens: %+v", got.Messages[0].Tokens)
	}
}

func TestSaveVersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, newTestSession("s1")); err != nil {
		t.Fatal(err)
	}

	a, _ := s.Get(ctx, "s1")
	b, _ := s.Get(ctx, "s1")

	a.Status = domain.StatusPaused
	if err := s.Save(ctx, a); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}

	b.Status = domain.StatusCompleted
	if err := s.Save(ctx, b); !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	got, _ := s.Get(ctx, "s1")
	if got.Status != domain.StatusPaused {
		t.Errorf("stale write overwrote stored session: %s", got.Status)
	}
}

func TestSaveUnknownSession(t *testing.T) {
	s := newTestStore(t)
	sess := newTestSession("ghost")
	sess.Version = 1
	if err := s.Save(context.Background(), sess); !domain.IsKind(err, domain.ErrorKindSessionNotFound) {
		t.Errorf("expected session_not_found, got %v", err)
	}
}

func TestListFiltersByPrincipal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newTestSession("s1")
	b := newTestSession("s2")
	b.Principal = "bob"
	for _, sess := range []*domain.Session{a, b} {
		if err := s.Create(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.List(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(all))
	}

	alice, err := s.List(ctx, storage.ListOptions{Principal: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(alice) != 1 || alice[0].ID != "s1" {
		t.Errorf("principal filter broken: %+v", alice)
	}
}

func TestDeleteCascadesEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession("s1")
	if err := s.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	sess.Messages = append(sess.Messages, domain.TranscriptEntry{
		ID: "m1", Speaker: "user", Content: "hi", Timestamp: time.Now().UTC(),
	})
	if err := s.Save(ctx, sess); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM transcript_entries WHERE session_id = 's1'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected cascade delete of entries, found %d", count)
	}

	if err := s.Delete(ctx, "s1"); !domain.IsKind(err, domain.ErrorKindSessionNotFound) {
		t.Errorf("expected session_not_found on second delete, got %v", err)
	}
}

func TestReopenSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	sess := newTestSession("s1")
	sess.Messages = append(sess.Messages, domain.TranscriptEntry{
		ID: "m1", Speaker: "user", Content: "persist me", Timestamp: time.Now().UTC(),
	})
	if err := s.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "persist me" {
		t.Errorf("transcript did not survive reopen: %+v", got.Messages)
	}
}
