package models

// StreamEventType defines the wire-level event kinds pushed to a turn's
// consumer. Consumers must treat unknown future types as ignorable.
type StreamEventType string

const (
	// EventTextDelta carries an incremental fragment of assistant text.
	EventTextDelta StreamEventType = "text_delta"

	// EventToolUseStart announces that the model requested a tool call.
	EventToolUseStart StreamEventType = "tool_use_start"

	// EventToolResult carries the structured outcome of one tool call.
	EventToolResult StreamEventType = "tool_result"

	// EventSuggestedFollowups carries next-step prompts for the client.
	EventSuggestedFollowups StreamEventType = "suggested_followups"

	// EventError signals an unrecoverable upstream failure; the stream
	// terminates after it (a done event still follows).
	EventError StreamEventType = "error"

	// EventDone is the deterministic end-of-stream marker. It is always
	// the last event, on every termination path.
	EventDone StreamEventType = "done"
)

// StreamEvent is the tagged union pushed over the streaming bus. Events
// exist only on the wire and are never persisted.
type StreamEvent struct {
	Type StreamEventType `json:"type"`
	Data any             `json:"data,omitempty"`
}

// TextDeltaData is the payload of a text_delta event.
type TextDeltaData struct {
	Text string `json:"text"`
}

// ToolUseStartData is the payload of a tool_use_start event.
type ToolUseStartData struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ToolResultData is the payload of a tool_result event.
type ToolResultData struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Status ExecutionStatus `json:"status"`
	Result string          `json:"result"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
}

// NewTextDelta creates a text_delta event.
func NewTextDelta(text string) StreamEvent {
	return StreamEvent{Type: EventTextDelta, Data: TextDeltaData{Text: text}}
}

// NewToolUseStart creates a tool_use_start event for a requested call.
func NewToolUseStart(call ToolCall) StreamEvent {
	return StreamEvent{Type: EventToolUseStart, Data: ToolUseStartData{ID: call.ID, Name: call.Name}}
}

// NewToolResult creates a tool_result event.
func NewToolResult(id, name string, status ExecutionStatus, result string) StreamEvent {
	return StreamEvent{Type: EventToolResult, Data: ToolResultData{ID: id, Name: name, Status: status, Result: result}}
}

// NewSuggestedFollowups creates a suggested_followups event.
func NewSuggestedFollowups(suggestions []string) StreamEvent {
	return StreamEvent{Type: EventSuggestedFollowups, Data: suggestions}
}

// NewError creates a terminal error event.
func NewError(err error) StreamEvent {
	return StreamEvent{Type: EventError, Data: ErrorData{Message: err.Error()}}
}

// NewDone creates the terminal done event.
func NewDone() StreamEvent {
	return StreamEvent{Type: EventDone}
}
