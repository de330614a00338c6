package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emanuele-galle/fodi-assistant/internal/catalog"
	"github.com/emanuele-galle/fodi-assistant/internal/history"
	"github.com/emanuele-galle/fodi-assistant/internal/permission"
	"github.com/emanuele-galle/fodi-assistant/internal/ratelimit"
	"github.com/emanuele-galle/fodi-assistant/internal/sandbox"
	"github.com/emanuele-galle/fodi-assistant/internal/store"
	"github.com/emanuele-galle/fodi-assistant/internal/stream"
	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

// scriptedRound is one canned model response for the fake provider.
type scriptedRound struct {
	text      string
	toolCalls []models.ToolCall
	err       error
}

// fakeProvider replays scripted rounds in order. When the script runs out it
// repeats the last round, which lets tests exercise the round ceiling.
type fakeProvider struct {
	mu       sync.Mutex
	script   []scriptedRound
	calls    int
	requests []*CompletionRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	f.mu.Lock()
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	round := f.script[idx]
	f.calls++
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if round.err != nil {
		return nil, round.err
	}

	out := make(chan *CompletionChunk, 8)
	go func() {
		defer close(out)
		// Split the text so multiple deltas flow per round.
		for _, part := range splitText(round.text) {
			out <- &CompletionChunk{Text: part}
		}
		for i := range round.toolCalls {
			tc := round.toolCalls[i]
			out <- &CompletionChunk{ToolCall: &tc}
		}
		out <- &CompletionChunk{Done: true, InputTokens: 100, OutputTokens: 25}
	}()
	return out, nil
}

func (f *fakeProvider) completions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func splitText(text string) []string {
	if text == "" {
		return nil
	}
	mid := len(text) / 2
	if mid == 0 {
		return []string{text}
	}
	return []string{text[:mid], text[mid:]}
}

type loopFixture struct {
	loop     *Loop
	provider *fakeProvider
	store    *store.MemoryStore
}

func newLoopFixture(t *testing.T, script []scriptedRound) *loopFixture {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	gate := permission.NewRoleGate()
	cat := catalog.New(gate, []catalog.Tool{
		&catalog.Definition{
			ToolName:        "create_task",
			ToolDescription: "Create a task",
			ToolModule:      "tasks",
			ToolPermission:  permission.PermWrite,
			InputSchema:     json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"}},"required":["title"]}`),
			Handler: func(ctx context.Context, input json.RawMessage, tc catalog.ToolContext) (*catalog.Result, error) {
				var in struct {
					Title string `json:"title"`
				}
				if err := json.Unmarshal(input, &in); err != nil {
					return catalog.Fail("invalid input"), nil
				}
				return catalog.Ok(map[string]any{"id": "task-1", "title": in.Title, "status": "TODO"}), nil
			},
		},
		&catalog.Definition{
			ToolName:        "list_tasks",
			ToolDescription: "List tasks",
			ToolModule:      "tasks",
			ToolPermission:  permission.PermRead,
			InputSchema:     json.RawMessage(`{"type":"object"}`),
			Handler: func(ctx context.Context, input json.RawMessage, tc catalog.ToolContext) (*catalog.Result, error) {
				return catalog.Ok([]string{}), nil
			},
		},
	})

	limiter := ratelimit.NewKeyedLimiter()
	sb := sandbox.New(cat, gate, limiter, st, sandbox.DefaultConfig(), slog.Default())
	provider := &fakeProvider{script: script}
	hist := history.NewManager(st, nil, slog.Default())
	loop := NewLoop(provider, sb, cat, hist, st, limiter, Config{Model: "test-model"}, slog.Default())

	return &loopFixture{loop: loop, provider: provider, store: st}
}

func turnRequest(message string) *TurnRequest {
	return &TurnRequest{
		TenantID: "tenant-1",
		UserID:   "user-1",
		Role:     "admin",
		Message:  message,
	}
}

func drain(bus *stream.Bus) []models.StreamEvent {
	var events []models.StreamEvent
	for ev := range bus.Events() {
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []models.StreamEvent) []models.StreamEventType {
	types := make([]models.StreamEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestRunTurnCreateTask(t *testing.T) {
	ctx := context.Background()
	fx := newLoopFixture(t, []scriptedRound{
		{
			text: "Creating that task now.",
			toolCalls: []models.ToolCall{
				{ID: "call-1", Name: "create_task", Input: json.RawMessage(`{"title":"X"}`)},
			},
		},
		{text: "Done, task X is on your board."},
	})

	bus := stream.NewBus()
	var events []models.StreamEvent
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		events = drain(bus)
	}()

	result, err := fx.loop.RunTurn(ctx, turnRequest("create task X due tomorrow assigned to me"), bus)
	wg.Wait()
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Rounds != 2 {
		t.Errorf("rounds = %d, want 2", result.Rounds)
	}
	if result.Text != "Done, task X is on your board." {
		t.Errorf("text = %q", result.Text)
	}
	if len(result.ToolsUsed) != 1 || result.ToolsUsed[0] != "create_task" {
		t.Errorf("tools used = %v", result.ToolsUsed)
	}
	if result.Usage.InputTokens != 200 || result.Usage.OutputTokens != 50 {
		t.Errorf("usage = %+v, want cumulative across 2 rounds", result.Usage)
	}

	// Transcript: user, assistant(tool call), tool_result, assistant.
	msgs, err := fx.store.GetHistory(ctx, result.ConversationID, 50)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("persisted messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != models.RoleUser {
		t.Errorf("msg 0 role = %q", msgs[0].Role)
	}
	if msgs[1].Role != models.RoleAssistant || len(msgs[1].ToolCalls) != 1 {
		t.Errorf("msg 1 = %q with %d tool calls, want assistant with 1", msgs[1].Role, len(msgs[1].ToolCalls))
	}
	if msgs[2].Role != models.RoleToolResult {
		t.Fatalf("msg 2 role = %q, want tool_result", msgs[2].Role)
	}
	if got := msgs[2].ToolResults[0].ToolCallID; got != "call-1" {
		t.Errorf("tool result references %q, want call-1", got)
	}
	if !strings.Contains(msgs[2].ToolResults[0].Content, `"status":"TODO"`) {
		t.Errorf("tool result content = %q", msgs[2].ToolResults[0].Content)
	}
	if msgs[3].Role != models.RoleAssistant || msgs[3].Model != "test-model" {
		t.Errorf("msg 3 = %q model %q", msgs[3].Role, msgs[3].Model)
	}

	// Conversation was created and titled from the opening message.
	conv, err := fx.store.GetConversation(ctx, result.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Title == "" {
		t.Error("conversation title not set")
	}

	// Audit trail records the execution as SUCCESS.
	execs, err := fx.store.ListToolExecutions(ctx, result.ConversationID)
	if err != nil {
		t.Fatalf("ListToolExecutions: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != models.ExecutionSuccess {
		t.Errorf("executions = %+v", execs)
	}

	// Event stream ends with suggestions then done; tool lifecycle events
	// appear in production order.
	types := eventTypes(events)
	if types[len(types)-1] != models.EventDone {
		t.Fatalf("last event = %q, want done", types[len(types)-1])
	}
	if types[len(types)-2] != models.EventSuggestedFollowups {
		t.Errorf("penultimate event = %q, want suggested_followups", types[len(types)-2])
	}
	var sawStart, sawResult bool
	for _, ev := range events {
		switch ev.Type {
		case models.EventToolUseStart:
			sawStart = true
			if sawResult {
				t.Error("tool_result emitted before tool_use_start")
			}
		case models.EventToolResult:
			sawResult = true
		}
	}
	if !sawStart || !sawResult {
		t.Errorf("missing tool lifecycle events: start=%v result=%v", sawStart, sawResult)
	}
}

func TestRunTurnPermissionDenied(t *testing.T) {
	ctx := context.Background()
	fx := newLoopFixture(t, []scriptedRound{
		{
			toolCalls: []models.ToolCall{
				{ID: "call-1", Name: "create_task", Input: json.RawMessage(`{"title":"X"}`)},
			},
		},
		{text: "I'm not able to create tasks for your account."},
	})

	req := turnRequest("create a task")
	req.Role = "viewer"

	bus := stream.NewBus()
	go drain(bus)

	result, err := fx.loop.RunTurn(ctx, req, bus)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	// Denial is fed back as a normal tool result; the loop continues to a
	// second round where the model explains.
	if result.Rounds != 2 {
		t.Errorf("rounds = %d, want 2", result.Rounds)
	}

	execs, err := fx.store.ListToolExecutions(ctx, result.ConversationID)
	if err != nil {
		t.Fatalf("ListToolExecutions: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != models.ExecutionDenied {
		t.Fatalf("executions = %+v, want one DENIED", execs)
	}

	msgs, _ := fx.store.GetHistory(ctx, result.ConversationID, 50)
	var toolResult *models.Message
	for _, m := range msgs {
		if m.Role == models.RoleToolResult {
			toolResult = m
		}
	}
	if toolResult == nil {
		t.Fatal("no tool_result message persisted")
	}
	if !toolResult.ToolResults[0].IsError {
		t.Error("denied call should produce an error tool result")
	}
	if !strings.Contains(toolResult.ToolResults[0].Content, "permission denied") {
		t.Errorf("tool result = %q, want user-safe denial", toolResult.ToolResults[0].Content)
	}
}

func TestRunTurnToolNotFound(t *testing.T) {
	ctx := context.Background()
	fx := newLoopFixture(t, []scriptedRound{
		{
			toolCalls: []models.ToolCall{
				{ID: "call-1", Name: "summon_dragon", Input: json.RawMessage(`{}`)},
			},
		},
		{text: "That capability does not exist."},
	})

	bus := stream.NewBus()
	go drain(bus)

	result, err := fx.loop.RunTurn(ctx, turnRequest("do the impossible"), bus)
	if err != nil {
		t.Fatalf("hallucinated tool must not fail the turn: %v", err)
	}
	execs, _ := fx.store.ListToolExecutions(ctx, result.ConversationID)
	if len(execs) != 1 || execs[0].Status != models.ExecutionError {
		t.Fatalf("executions = %+v, want one ERROR", execs)
	}
}

func TestRunTurnRoundCeiling(t *testing.T) {
	ctx := context.Background()
	// The model requests a tool on every round and never terminates.
	fx := newLoopFixture(t, []scriptedRound{
		{
			text: "checking",
			toolCalls: []models.ToolCall{
				{ID: "call-n", Name: "list_tasks", Input: json.RawMessage(`{}`)},
			},
		},
	})

	bus := stream.NewBus()
	go drain(bus)

	result, err := fx.loop.RunTurn(ctx, turnRequest("loop forever"), bus)
	if err != nil {
		t.Fatalf("round ceiling must end the turn gracefully: %v", err)
	}
	if result.Rounds != 10 {
		t.Errorf("rounds = %d, want ceiling of 10", result.Rounds)
	}
	if fx.provider.completions() != 10 {
		t.Errorf("model calls = %d, want 10", fx.provider.completions())
	}
	// The last round's text survives as the turn's output.
	if result.Text != "checking" {
		t.Errorf("text = %q", result.Text)
	}
}

func TestRunTurnModelFailure(t *testing.T) {
	ctx := context.Background()
	fx := newLoopFixture(t, []scriptedRound{
		{err: errors.New("upstream unavailable")},
	})

	bus := stream.NewBus()
	var events []models.StreamEvent
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		events = drain(bus)
	}()

	result, err := fx.loop.RunTurn(ctx, turnRequest("hello"), bus)
	wg.Wait()
	if err == nil {
		t.Fatal("model failure must surface as a hard error")
	}
	if result == nil {
		t.Fatal("usage must be returned even on hard errors")
	}

	types := eventTypes(events)
	if len(types) < 2 {
		t.Fatalf("events = %v", types)
	}
	if types[len(types)-2] != models.EventError {
		t.Errorf("expected terminal error event, got %v", types)
	}
	if types[len(types)-1] != models.EventDone {
		t.Errorf("done must follow error, got %v", types)
	}
}

func TestRunTurnTurnRateLimit(t *testing.T) {
	ctx := context.Background()
	fx := newLoopFixture(t, []scriptedRound{{text: "hi"}})
	fx.loop.config.TurnLimit = 1
	fx.loop.config.TurnWindow = time.Hour

	bus := stream.NewBus()
	go drain(bus)
	if _, err := fx.loop.RunTurn(ctx, turnRequest("first"), bus); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	bus2 := stream.NewBus()
	go drain(bus2)
	_, err := fx.loop.RunTurn(ctx, turnRequest("second"), bus2)
	if !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("err = %v, want ErrTooManyRequests", err)
	}
	// The model was never called for the rejected turn.
	if fx.provider.completions() != 1 {
		t.Errorf("model calls = %d, want 1", fx.provider.completions())
	}
}

func TestRunTurnContinuesExistingConversation(t *testing.T) {
	ctx := context.Background()
	fx := newLoopFixture(t, []scriptedRound{{text: "sure"}})

	bus := stream.NewBus()
	go drain(bus)
	first, err := fx.loop.RunTurn(ctx, turnRequest("start"), bus)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}

	req := turnRequest("and then?")
	req.ConversationID = first.ConversationID
	bus2 := stream.NewBus()
	go drain(bus2)
	second, err := fx.loop.RunTurn(ctx, req, bus2)
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Errorf("conversation changed between turns")
	}

	// The second turn's model call must include the first turn's exchange.
	fx.provider.mu.Lock()
	lastReq := fx.provider.requests[len(fx.provider.requests)-1]
	fx.provider.mu.Unlock()
	if len(lastReq.Messages) != 3 {
		t.Errorf("second call transcript = %d messages, want 3", len(lastReq.Messages))
	}
}

func TestRunTurnTitlesUntitledConversation(t *testing.T) {
	ctx := context.Background()
	fx := newLoopFixture(t, []scriptedRound{{text: "sure"}})

	// Conversations can be created ahead of the first message, untitled.
	conv := &models.Conversation{TenantID: "tenant-1", UserID: "user-1"}
	if err := fx.store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	req := turnRequest("what invoices are overdue?")
	req.ConversationID = conv.ID
	bus := stream.NewBus()
	go drain(bus)
	if _, err := fx.loop.RunTurn(ctx, req, bus); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	updated, err := fx.store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if updated.Title != "what invoices are overdue?" {
		t.Errorf("title = %q, want the opening message", updated.Title)
	}
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"create task X", "create task X"},
		{"  padded  ", "padded"},
		{"first line\nsecond line", "first line"},
		{strings.Repeat("a", 80), strings.Repeat("a", 60) + "…"},
	}
	for _, tt := range tests {
		if got := deriveTitle(tt.in); got != tt.want {
			t.Errorf("deriveTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
