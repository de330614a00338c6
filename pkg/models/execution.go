package models

import (
	"encoding/json"
	"time"
)

// ExecutionStatus classifies the outcome of a single tool invocation.
type ExecutionStatus string

const (
	// ExecutionSuccess means the executor ran and reported success.
	ExecutionSuccess ExecutionStatus = "SUCCESS"

	// ExecutionError covers executor failures, panics, unknown tools,
	// invalid input, and rate-limited calls.
	ExecutionError ExecutionStatus = "ERROR"

	// ExecutionDenied means the permission gate rejected the call before
	// the executor ran. No side effect occurred.
	ExecutionDenied ExecutionStatus = "DENIED"
)

// ToolExecution is the write-once audit record for one tool invocation.
// It is persisted even when the executor fails and never mutated after
// creation.
type ToolExecution struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	MessageID      string          `json:"message_id"`
	ToolName       string          `json:"tool_name"`
	Input          json.RawMessage `json:"input"`
	Output         json.RawMessage `json:"output,omitempty"`
	Status         ExecutionStatus `json:"status"`
	DurationMs     int64           `json:"duration_ms"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
