package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

// sqliteTimeFormat is the timestamp format used for all SQLite datetime
// values.
const sqliteTimeFormat = "2006-01-02 15:04:05.000"

// SQLiteStore implements the Store interface on a local SQLite database.
// It is the default backend for single-node and CLI runs.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the assistant database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc's driver serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent turns.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_calls TEXT,
			tool_results TEXT,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			model TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, seq)`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL,
			input TEXT,
			output TEXT,
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_executions_conversation ON tool_executions (conversation_id, seq)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	conv.UpdatedAt = conv.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, tenant_id, user_id, title, summary, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.TenantID, conv.UserID, conv.Title, conv.Summary,
		conv.CreatedAt.UTC().Format(sqliteTimeFormat), conv.UpdatedAt.UTC().Format(sqliteTimeFormat))
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, title, summary, created_at, updated_at
		 FROM conversations WHERE id = ?`, id).Scan(
		&conv.ID, &conv.TenantID, &conv.UserID, &conv.Title, &conv.Summary, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	conv.CreatedAt = parseSQLiteTime(createdAt)
	conv.UpdatedAt = parseSQLiteTime(updatedAt)
	return conv, nil
}

func (s *SQLiteStore) SetConversationTitle(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC().Format(sqliteTimeFormat), id)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetConversationSummary(ctx context.Context, id, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET summary = ?, updated_at = ? WHERE id = ?`,
		summary, time.Now().UTC().Format(sqliteTimeFormat), id)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	toolCalls, err := marshalNullableText(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	toolResults, err := marshalNullableText(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("marshal tool results: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, latency_ms, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content,
		toolCalls, toolResults,
		msg.InputTokens, msg.OutputTokens, msg.LatencyMs, msg.Model,
		msg.CreatedAt.UTC().Format(sqliteTimeFormat))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, latency_ms, model, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY seq DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	msgs, err := scanSQLiteMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) GetFirstMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, latency_ms, model, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY seq ASC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query first messages: %w", err)
	}
	defer rows.Close()
	return scanSQLiteMessages(rows)
}

func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) RecordToolExecution(ctx context.Context, exec *models.ToolExecution) error {
	if exec == nil {
		return errors.New("execution is required")
	}
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now()
	}

	var input, output any
	if len(exec.Input) > 0 {
		input = string(exec.Input)
	}
	if len(exec.Output) > 0 {
		output = string(exec.Output)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_executions (id, conversation_id, message_id, tool_name, input, output, status, duration_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.ConversationID, exec.MessageID, exec.ToolName,
		input, output, string(exec.Status), exec.DurationMs, exec.Error,
		exec.CreatedAt.UTC().Format(sqliteTimeFormat))
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListToolExecutions(ctx context.Context, conversationID string) ([]*models.ToolExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, message_id, tool_name, input, output, status, duration_ms, error, created_at
		 FROM tool_executions WHERE conversation_id = ?
		 ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*models.ToolExecution
	for rows.Next() {
		exec := &models.ToolExecution{}
		var input, output sql.NullString
		var createdAt string
		if err := rows.Scan(
			&exec.ID, &exec.ConversationID, &exec.MessageID, &exec.ToolName,
			&input, &output, &exec.Status, &exec.DurationMs, &exec.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		if input.Valid {
			exec.Input = json.RawMessage(input.String)
		}
		if output.Valid {
			exec.Output = json.RawMessage(output.String)
		}
		exec.CreatedAt = parseSQLiteTime(createdAt)
		out = append(out, exec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSQLiteMessages(rows *sql.Rows) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var role, createdAt string
		var toolCalls, toolResults sql.NullString
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &role, &msg.Content,
			&toolCalls, &toolResults,
			&msg.InputTokens, &msg.OutputTokens, &msg.LatencyMs, &msg.Model, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.CreatedAt = parseSQLiteTime(createdAt)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if toolResults.Valid && toolResults.String != "" {
			if err := json.Unmarshal([]byte(toolResults.String), &msg.ToolResults); err != nil {
				return nil, fmt.Errorf("unmarshal tool results: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func parseSQLiteTime(value string) time.Time {
	t, err := time.Parse(sqliteTimeFormat, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func marshalNullableText[T any](items []T) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
