package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/Khin-96/KhinsLLM/internal/khins/llm"
)

const summarizeInstruction = "You condense a user's past conversation notes into one or two short " +
	"sentences of durable facts about them (preferences, plans, people, places). " +
	"Reply with the summary only."

// LLMSummarizer condenses memories with the bot's own language model. It is
// used when no hosted memory service is configured.
type LLMSummarizer struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMSummarizer returns a Summarizer backed by provider.
func NewLLMSummarizer(provider llm.Provider) *LLMSummarizer {
	return &LLMSummarizer{provider: provider, maxTokens: 200}
}

// Summarize asks the model for a short summary of text.
func (s *LLMSummarizer) Summarize(ctx context.Context, text, userID string) (string, error) {
	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		System: summarizeInstruction,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Notes about %s:\n%s", userID, text),
		}},
		MaxTokens:   s.maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("memory summarise: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Compile-time interface satisfaction check.
var _ Summarizer = (*LLMSummarizer)(nil)
