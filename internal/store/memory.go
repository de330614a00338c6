package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for tests and
// local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
	executions    map[string][]*models.ToolExecution
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*models.Conversation{},
		messages:      map[string][]*models.Message{},
		executions:    map[string][]*models.ToolExecution{},
	}
}

func (m *MemoryStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *conv
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	// Reflect generated fields back to the caller.
	conv.ID = clone.ID
	conv.CreatedAt = clone.CreatedAt
	conv.UpdatedAt = clone.UpdatedAt
	m.conversations[clone.ID] = &clone
	return nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *conv
	return &clone, nil
}

func (m *MemoryStore) SetConversationTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetConversationSummary(ctx context.Context, id, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Summary = summary
	conv.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *msg
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	msg.ID = clone.ID
	msg.CreatedAt = clone.CreatedAt
	m.messages[clone.ConversationID] = append(m.messages[clone.ConversationID], &clone)
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*models.Message, len(msgs))
	for i, msg := range msgs {
		clone := *msg
		out[i] = &clone
	}
	return out, nil
}

func (m *MemoryStore) GetFirstMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]*models.Message, len(msgs))
	for i, msg := range msgs {
		clone := *msg
		out[i] = &clone
	}
	return out, nil
}

func (m *MemoryStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[conversationID]), nil
}

func (m *MemoryStore) RecordToolExecution(ctx context.Context, exec *models.ToolExecution) error {
	if exec == nil {
		return errors.New("execution is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *exec
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	exec.ID = clone.ID
	exec.CreatedAt = clone.CreatedAt
	m.executions[clone.ConversationID] = append(m.executions[clone.ConversationID], &clone)
	return nil
}

func (m *MemoryStore) ListToolExecutions(ctx context.Context, conversationID string) ([]*models.ToolExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	execs := m.executions[conversationID]
	out := make([]*models.ToolExecution, len(execs))
	for i, exec := range execs {
		clone := *exec
		out[i] = &clone
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
