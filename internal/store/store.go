// Package store provides persistence for conversations, messages, and tool
// execution audit records. Messages and tool executions are append-only; the
// core never updates or deletes them.
package store

import (
	"context"
	"errors"

	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Store is the interface for conversation persistence.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	SetConversationTitle(ctx context.Context, id, title string) error
	SetConversationSummary(ctx context.Context, id, summary string) error

	// Messages (append-only)
	AppendMessage(ctx context.Context, msg *models.Message) error
	GetHistory(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
	GetFirstMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)

	// Tool execution audit (write-once)
	RecordToolExecution(ctx context.Context, exec *models.ToolExecution) error
	ListToolExecutions(ctx context.Context, conversationID string) ([]*models.ToolExecution, error)

	Close() error
}
