package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

// PostgresStore implements the Store interface on PostgreSQL.
type PostgresStore struct {
	db *sql.DB

	// Prepared statements for the hot paths
	stmtCreateConv    *sql.Stmt
	stmtGetConv       *sql.Stmt
	stmtSetTitle      *sql.Stmt
	stmtSetSummary    *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtGetHistory    *sql.Stmt
	stmtGetFirst      *sql.Stmt
	stmtCountMessages *sql.Stmt
	stmtRecordExec    *sql.Stmt
	stmtListExecs     *sql.Stmt
}

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens a PostgreSQL-backed store from a DSN, creates the
// schema if needed, and prepares statements.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return store, nil
}

// newPostgresStoreFromDB wraps an existing handle; used by tests.
func newPostgresStoreFromDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.prepareStatements(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_calls JSONB,
			tool_results JSONB,
			input_tokens INT NOT NULL DEFAULT 0,
			output_tokens INT NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			model TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL,
			input JSONB,
			output JSONB,
			status TEXT NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_executions_conversation ON tool_executions (conversation_id, created_at)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtCreateConv, err = s.db.Prepare(`
		INSERT INTO conversations (id, tenant_id, user_id, title, summary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare create conversation: %w", err)
	}

	s.stmtGetConv, err = s.db.Prepare(`
		SELECT id, tenant_id, user_id, title, summary, created_at, updated_at
		FROM conversations WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get conversation: %w", err)
	}

	s.stmtSetTitle, err = s.db.Prepare(`
		UPDATE conversations SET title = $1, updated_at = $2 WHERE id = $3
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare set title: %w", err)
	}

	s.stmtSetSummary, err = s.db.Prepare(`
		UPDATE conversations SET summary = $1, updated_at = $2 WHERE id = $3
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare set summary: %w", err)
	}

	s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, latency_ms, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare append message: %w", err)
	}

	s.stmtGetHistory, err = s.db.Prepare(`
		SELECT id, conversation_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, latency_ms, model, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get history: %w", err)
	}

	s.stmtGetFirst, err = s.db.Prepare(`
		SELECT id, conversation_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, latency_ms, model, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get first messages: %w", err)
	}

	s.stmtCountMessages, err = s.db.Prepare(`
		SELECT COUNT(*) FROM messages WHERE conversation_id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare count messages: %w", err)
	}

	s.stmtRecordExec, err = s.db.Prepare(`
		INSERT INTO tool_executions (id, conversation_id, message_id, tool_name, input, output, status, duration_ms, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare record execution: %w", err)
	}

	s.stmtListExecs, err = s.db.Prepare(`
		SELECT id, conversation_id, message_id, tool_name, input, output, status, duration_ms, error, created_at
		FROM tool_executions WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list executions: %w", err)
	}

	return nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
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

	_, err := s.stmtCreateConv.ExecContext(ctx,
		conv.ID, conv.TenantID, conv.UserID, conv.Title, conv.Summary, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.stmtGetConv.QueryRowContext(ctx, id).Scan(
		&conv.ID, &conv.TenantID, &conv.UserID, &conv.Title, &conv.Summary, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) SetConversationTitle(ctx context.Context, id, title string) error {
	_, err := s.stmtSetTitle.ExecContext(ctx, title, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set title: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetConversationSummary(ctx context.Context, id, summary string) error {
	_, err := s.stmtSetSummary.ExecContext(ctx, summary, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	toolCalls, err := marshalNullable(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to marshal tool calls: %w", err)
	}
	toolResults, err := marshalNullable(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("failed to marshal tool results: %w", err)
	}

	_, err = s.stmtAppendMessage.ExecContext(ctx,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content,
		toolCalls, toolResults,
		msg.InputTokens, msg.OutputTokens, msg.LatencyMs, msg.Model, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.stmtGetHistory.QueryContext(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Rows arrive newest-first; return chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *PostgresStore) GetFirstMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.stmtGetFirst.QueryContext(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query first messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	if err := s.stmtCountMessages.QueryRowContext(ctx, conversationID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) RecordToolExecution(ctx context.Context, exec *models.ToolExecution) error {
	if exec == nil {
		return errors.New("execution is required")
	}
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now()
	}

	var output any
	if len(exec.Output) > 0 {
		output = []byte(exec.Output)
	}
	var input any
	if len(exec.Input) > 0 {
		input = []byte(exec.Input)
	}

	_, err := s.stmtRecordExec.ExecContext(ctx,
		exec.ID, exec.ConversationID, exec.MessageID, exec.ToolName,
		input, output, string(exec.Status), exec.DurationMs, exec.Error, exec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListToolExecutions(ctx context.Context, conversationID string) ([]*models.ToolExecution, error) {
	rows, err := s.stmtListExecs.QueryContext(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*models.ToolExecution
	for rows.Next() {
		exec := &models.ToolExecution{}
		var input, output sql.NullString
		if err := rows.Scan(
			&exec.ID, &exec.ConversationID, &exec.MessageID, &exec.ToolName,
			&input, &output, &exec.Status, &exec.DurationMs, &exec.Error, &exec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		if input.Valid {
			exec.Input = json.RawMessage(input.String)
		}
		if output.Valid {
			exec.Output = json.RawMessage(output.String)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// Close closes the prepared statements and the database connection.
func (s *PostgresStore) Close() error {
	var errs []error
	stmts := []*sql.Stmt{
		s.stmtCreateConv, s.stmtGetConv, s.stmtSetTitle, s.stmtSetSummary,
		s.stmtAppendMessage, s.stmtGetHistory, s.stmtGetFirst, s.stmtCountMessages,
		s.stmtRecordExec, s.stmtListExecs,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var role string
		var toolCalls, toolResults sql.NullString
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &role, &msg.Content,
			&toolCalls, &toolResults,
			&msg.InputTokens, &msg.OutputTokens, &msg.LatencyMs, &msg.Model, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
			}
		}
		if toolResults.Valid && toolResults.String != "" {
			if err := json.Unmarshal([]byte(toolResults.String), &msg.ToolResults); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool results: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// marshalNullable marshals a slice to JSON, producing SQL NULL for empty
// slices so the column stays queryable.
func marshalNullable[T any](items []T) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return b, nil
}
