package agent

import (
	"context"
	"encoding/json"

	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

// LLMProvider is the streaming interface to a language model backend.
//
// Implementations must be safe for concurrent use; multiple turns across
// different conversations may call Complete simultaneously.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. The channel
	// is closed when the stream ends; the final chunk carries Done and the
	// token usage for the request.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string
}

// CompletionRequest carries one model call: system prompt, transcript, and
// the tools the model may request.
type CompletionRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []CompletionMessage `json:"messages"`
	Tools     []ToolDefinition    `json:"tools,omitempty"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

// ToolDefinition is the provider-facing description of a tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"input_schema"`
}

// CompletionMessage is a single message in the model-visible transcript.
// Role values: "user", "assistant", "tool_result".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is one increment of a streaming response. A chunk carries
// partial text, a complete tool call, or the terminal Done signal with token
// usage. Error terminates the stream.
type CompletionChunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Error    error            `json:"-"`

	// Populated on the final chunk only.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}
