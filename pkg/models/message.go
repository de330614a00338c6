package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// Conversation is a single assistant conversation owned by a tenant user.
// The core creates it on the first user turn and only ever mutates the
// title (once) and the rolling summary; deletion is an external concern.
type Conversation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one append-only transcript entry. Assistant messages may carry
// tool calls; tool_result messages carry the matching results. Messages are
// never updated or deleted - creation order is the only structure.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	ToolCalls      []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult `json:"tool_results,omitempty"`
	InputTokens    int          `json:"input_tokens,omitempty"`
	OutputTokens   int          `json:"output_tokens,omitempty"`
	LatencyMs      int64        `json:"latency_ms,omitempty"`
	Model          string       `json:"model,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ToolCall represents the model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the outcome of a tool execution as fed back to the
// model. Content is the serialized {success, data, error} payload.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Usage accumulates token and latency accounting across the rounds of a
// turn.
type Usage struct {
	InputTokens  int   `json:"input_tokens"`
	OutputTokens int   `json:"output_tokens"`
	LatencyMs    int64 `json:"latency_ms"`
}

// Add merges per-round usage into the cumulative total.
func (u *Usage) Add(in, out int) {
	u.InputTokens += in
	u.OutputTokens += out
}
