// Package history assembles the model-visible transcript for a conversation
// and compacts long conversations through best-effort background
// summarization. History itself is never mutated; compaction only writes the
// conversation's rolling summary once.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emanuele-galle/fodi-assistant/internal/store"
	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

const (
	// summarizeThreshold is the message count beyond which a conversation
	// is eligible for compaction.
	summarizeThreshold = 30

	// tailWithSummary is how many recent messages accompany the summary.
	tailWithSummary = 20

	// verbatimLimit bounds the transcript when no summary is in play.
	verbatimLimit = 50

	// summarySourceLimit is how many early user/assistant messages feed the
	// synopsis.
	summarySourceLimit = 20

	// summaryFetchLimit over-fetches the head of the conversation so that
	// tool_result messages interleaved with the dialogue do not shrink the
	// synopsis window below summarySourceLimit.
	summaryFetchLimit = summarySourceLimit * 3

	// summarizeTimeout bounds the detached summarization call.
	summarizeTimeout = 60 * time.Second
)

// Summarizer produces a short synopsis of early conversation history.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*models.Message) (string, error)
}

// Context is the transcript handed to the agent loop.
type Context struct {
	Messages    []*models.Message
	UsedSummary bool
}

// Manager loads prior turns and schedules summarization.
type Manager struct {
	store      store.Store
	summarizer Summarizer
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

// NewManager creates a history manager. summarizer may be nil; compaction is
// then disabled and conversations always use verbatim history.
func NewManager(st store.Store, summarizer Summarizer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      st,
		summarizer: summarizer,
		logger:     logger,
		inflight:   map[string]bool{},
	}
}

// LoadContext returns the model-visible transcript for a conversation. When
// a summary exists and the conversation has outgrown the threshold, the
// transcript is a synthetic summary pair plus the recent tail; otherwise it
// is the recent history verbatim.
func (m *Manager) LoadContext(ctx context.Context, conv *models.Conversation) (*Context, error) {
	count, err := m.store.CountMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	if conv.Summary != "" && count > summarizeThreshold {
		tail, err := m.store.GetHistory(ctx, conv.ID, tailWithSummary)
		if err != nil {
			return nil, fmt.Errorf("load history tail: %w", err)
		}
		messages := append(summaryPair(conv), tail...)
		return &Context{Messages: messages, UsedSummary: true}, nil
	}

	messages, err := m.store.GetHistory(ctx, conv.ID, verbatimLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return &Context{Messages: messages}, nil
}

// summaryPair builds the synthetic exchange that stands in for compacted
// history. Using a user/assistant pair keeps the transcript valid for
// providers that require alternating roles.
func summaryPair(conv *models.Conversation) []*models.Message {
	return []*models.Message{
		{
			ConversationID: conv.ID,
			Role:           models.RoleUser,
			Content:        "Summary of the conversation so far: " + conv.Summary,
		},
		{
			ConversationID: conv.ID,
			Role:           models.RoleAssistant,
			Content:        "Understood. I will continue from that context.",
		},
	}
}

// MaybeSummarize schedules background summarization when the conversation
// has outgrown the threshold and has no summary yet. The work runs detached
// from the calling turn with its own error boundary: failures are logged and
// swallowed, never surfaced. At most one summarization is in flight per
// conversation, and an existing summary makes the call a no-op.
func (m *Manager) MaybeSummarize(ctx context.Context, conv *models.Conversation) {
	if m.summarizer == nil || conv.Summary != "" {
		return
	}

	count, err := m.store.CountMessages(ctx, conv.ID)
	if err != nil || count <= summarizeThreshold {
		return
	}

	m.mu.Lock()
	if m.inflight[conv.ID] {
		m.mu.Unlock()
		return
	}
	m.inflight[conv.ID] = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("summarization panicked", "conversation", conv.ID, "panic", r)
			}
			m.mu.Lock()
			delete(m.inflight, conv.ID)
			m.mu.Unlock()
		}()

		// Detached from the request context on purpose: the turn must
		// not wait for, or fail because of, summarization.
		bgCtx, cancel := context.WithTimeout(context.Background(), summarizeTimeout)
		defer cancel()

		m.summarize(bgCtx, conv.ID)
	}()
}

// Wait blocks until in-flight summarizations finish. Test and shutdown hook.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) summarize(ctx context.Context, conversationID string) {
	// Re-check under fresh state: another process may have won the race.
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		m.logger.Warn("summarization skipped", "conversation", conversationID, "error", err)
		return
	}
	if conv.Summary != "" {
		return
	}

	early, err := m.store.GetFirstMessages(ctx, conversationID, summaryFetchLimit)
	if err != nil {
		m.logger.Warn("summarization failed to load history", "conversation", conversationID, "error", err)
		return
	}

	var source []*models.Message
	for _, msg := range early {
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			continue
		}
		source = append(source, msg)
		if len(source) == summarySourceLimit {
			break
		}
	}
	if len(source) == 0 {
		return
	}

	summary, err := m.summarizer.Summarize(ctx, source)
	if err != nil {
		m.logger.Warn("summarization failed", "conversation", conversationID, "error", err)
		return
	}
	if summary == "" {
		return
	}

	if err := m.store.SetConversationSummary(ctx, conversationID, summary); err != nil {
		m.logger.Warn("failed to store summary", "conversation", conversationID, "error", err)
		return
	}
	m.logger.Info("conversation summarized", "conversation", conversationID)
}
