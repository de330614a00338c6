package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

const summarySystemPrompt = "You summarize conversations between a user and a business assistant. " +
	"Reply with a 2-3 sentence synopsis of what was discussed and decided. " +
	"Reply with the synopsis only, no preamble."

// Summarizer produces conversation synopses through an LLMProvider. It
// satisfies the history manager's summarizer contract.
type Summarizer struct {
	provider LLMProvider
	model    string
}

// NewSummarizer wires a provider into a history summarizer. model may be
// empty; the provider's default is used.
func NewSummarizer(provider LLMProvider, model string) *Summarizer {
	return &Summarizer{provider: provider, model: model}
}

// Summarize asks the model for a short synopsis of the given messages.
func (s *Summarizer) Summarize(ctx context.Context, messages []*models.Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, msg.Content)
	}
	if transcript.Len() == 0 {
		return "", nil
	}

	chunks, err := s.provider.Complete(ctx, &CompletionRequest{
		Model:  s.model,
		System: summarySystemPrompt,
		Messages: []CompletionMessage{
			{Role: string(models.RoleUser), Content: transcript.String()},
		},
		MaxTokens: 256,
	})
	if err != nil {
		return "", fmt.Errorf("summary completion: %w", err)
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		out.WriteString(chunk.Text)
	}
	return strings.TrimSpace(out.String()), nil
}
