// Package tokens provides token counting and history truncation for prompt
// building. Counts come from tiktoken; a character-ratio estimator covers
// codecs that fail to load.
package tokens

import (
	"github.com/tiktoken-go/tokenizer"

	"github.com/crowdthink/brainstorm/internal/domain"
)

// estimatorCharsPerToken is the fallback ratio when no codec is available.
const estimatorCharsPerToken = 4

// Budgeter counts tokens against a fixed context-window budget.
type Budgeter struct {
	codec  tokenizer.Codec
	budget int
}

// NewBudgeter creates a budgeter for the given token budget. A budget of
// zero or less disables truncation.
func NewBudgeter(budget int) *Budgeter {
	// cl100k is a reasonable cross-backend approximation; exact provider
	// tokenization only matters for billing, not for the truncation bound.
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		codec = nil
	}
	return &Budgeter{codec: codec, budget: budget}
}

// Count returns the token count for text.
func (b *Budgeter) Count(text string) int {
	if b.codec != nil {
		if ids, _, err := b.codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (len(text) + estimatorCharsPerToken - 1) / estimatorCharsPerToken
}

// Budget returns the configured budget.
func (b *Budgeter) Budget() int {
	return b.budget
}

// Truncate drops the oldest messages until the rendered history fits within
// the budget, always keeping the most recent message. The relative order of
// the surviving messages is unchanged.
func (b *Budgeter) Truncate(history []domain.Message) []domain.Message {
	if b.budget <= 0 || len(history) == 0 {
		return history
	}

	// Walk from newest to oldest, accumulating cost.
	total := 0
	cut := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := b.Count(history[i].Content) + b.Count(history[i].Role)
		if total+cost > b.budget && i < len(history)-1 {
			cut = i + 1
			break
		}
		total += cost
	}

	return history[cut:]
}
