package tokens

import (
	"strings"
	"testing"

	"github.com/crowdthink/brainstorm/internal/domain"
)

func TestCount_Nonzero(t *testing.T) {
	b := NewBudgeter(100)
	if n := b.Count("hello world, this is a sentence"); n == 0 {
		t.Error("expected nonzero count")
	}
	if b.Count("") != 0 {
		t.Error("empty text should count zero")
	}
}

func TestTruncate_Disabled(t *testing.T) {
	b := NewBudgeter(0)
	history := []domain.Message{
		{Role: "user", Content: strings.Repeat("x", 10000)},
		{Role: "assistant", Content: strings.Repeat("y", 10000)},
	}
	if got := b.Truncate(history); len(got) != 2 {
		t.Errorf("zero budget must not truncate, got %d messages", len(got))
	}
}

func TestTruncate_DropsOldestFirst(t *testing.T) {
	b := NewBudgeter(50)
	history := []domain.Message{
		{Role: "user", Content: strings.Repeat("old ", 200)},
		{Role: "assistant", Content: strings.Repeat("mid ", 200)},
		{Role: "user", Content: "recent question"},
	}

	got := b.Truncate(history)

	if len(got) == 0 {
		t.Fatal("truncation removed everything")
	}
	if got[len(got)-1].Content != "recent question" {
		t.Errorf("most recent message lost: %+v", got)
	}
	if len(got) == len(history) {
		t.Error("expected oldest messages to be dropped")
	}
}

func TestTruncate_KeepsMostRecentEvenWhenOverBudget(t *testing.T) {
	b := NewBudgeter(5)
	history := []domain.Message{
		{Role: "user", Content: strings.Repeat("a very long single message ", 100)},
	}
	if got := b.Truncate(history); len(got) != 1 {
		t.Errorf("single message must survive truncation, got %d", len(got))
	}
}

func TestTruncate_PreservesOrder(t *testing.T) {
	b := NewBudgeter(1 << 20)
	history := []domain.Message{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
	}
	got := b.Truncate(history)
	if len(got) != 3 {
		t.Fatalf("nothing should be dropped within budget, got %d", len(got))
	}
	for i, want := range []string{"one", "two", "three"} {
		if got[i].Content != want {
			t.Errorf("order changed at %d: %q", i, got[i].Content)
		}
	}
}
