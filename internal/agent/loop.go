// Package agent implements the tool-calling loop that drives a language
// model through bounded rounds of reasoning and tool execution for a single
// conversational turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emanuele-galle/fodi-assistant/internal/catalog"
	"github.com/emanuele-galle/fodi-assistant/internal/history"
	"github.com/emanuele-galle/fodi-assistant/internal/ratelimit"
	"github.com/emanuele-galle/fodi-assistant/internal/sandbox"
	"github.com/emanuele-galle/fodi-assistant/internal/store"
	"github.com/emanuele-galle/fodi-assistant/internal/stream"
	"github.com/emanuele-galle/fodi-assistant/internal/suggest"
	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

var (
	// ErrTooManyRequests is returned when the per-user turn budget is
	// exhausted before the model is called.
	ErrTooManyRequests = errors.New("too many requests")

	// ErrNoProvider is returned when the loop has no model backend.
	ErrNoProvider = errors.New("no language model provider configured")
)

const titleMaxRunes = 60

// Config bounds a turn.
type Config struct {
	// MaxToolRounds caps model-call rounds per turn. Default: 10.
	MaxToolRounds int

	// MaxTokens is the per-round response cap passed to the provider.
	// Default: 4096.
	MaxTokens int

	// Model and System are the defaults for every model call in the turn.
	Model  string
	System string

	// TurnLimit and TurnWindow bound turns per user. Defaults: 20 per minute.
	TurnLimit  int
	TurnWindow time.Duration
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxToolRounds: 10,
		MaxTokens:     4096,
		TurnLimit:     20,
		TurnWindow:    time.Minute,
	}
}

// TurnRequest is one user utterance plus the caller identity that scopes
// tool visibility and authorization for the whole turn.
type TurnRequest struct {
	// ConversationID is empty on the first turn; the loop creates the
	// conversation and reports its id in the TurnResult.
	ConversationID string

	TenantID string
	UserID   string
	Role     string

	// TenantOverrides are per-tenant permission grants or revocations,
	// keyed as "module.permission".
	TenantOverrides map[string]bool

	// EnabledTools restricts the catalog for this turn. Nil means all
	// tools the role can see.
	EnabledTools []string

	// Message is the user utterance.
	Message string

	// PageHint tells tools which platform screen the user is on.
	PageHint string
}

// TurnResult reports how the turn ended. It is returned non-nil on every
// termination path once the model has been called, including hard errors,
// so callers always receive the usage accounted so far.
type TurnResult struct {
	ConversationID string       `json:"conversation_id"`
	Text           string       `json:"text"`
	Rounds         int          `json:"rounds"`
	ToolsUsed      []string     `json:"tools_used,omitempty"`
	Usage          models.Usage `json:"usage"`
}

// Loop is the per-turn state machine. One instance serves many turns; all
// per-turn state lives on the stack of RunTurn.
type Loop struct {
	provider LLMProvider
	sandbox  *sandbox.Sandbox
	catalog  *catalog.Catalog
	history  *history.Manager
	store    store.Store
	limiter  ratelimit.Limiter
	config   Config
	logger   *slog.Logger
}

// NewLoop creates an agent loop. Zero-valued config fields fall back to
// DefaultConfig.
func NewLoop(provider LLMProvider, sb *sandbox.Sandbox, cat *catalog.Catalog, hist *history.Manager, st store.Store, limiter ratelimit.Limiter, config Config, logger *slog.Logger) *Loop {
	defaults := DefaultConfig()
	if config.MaxToolRounds <= 0 {
		config.MaxToolRounds = defaults.MaxToolRounds
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.TurnLimit <= 0 {
		config.TurnLimit = defaults.TurnLimit
	}
	if config.TurnWindow <= 0 {
		config.TurnWindow = defaults.TurnWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		provider: provider,
		sandbox:  sb,
		catalog:  cat,
		history:  hist,
		store:    st,
		limiter:  limiter,
		config:   config,
		logger:   logger,
	}
}

// RunTurn processes one user utterance to completion, streaming increments
// through bus as they are produced. The bus is always closed before RunTurn
// returns, so the consumer sees a terminal done event on every path.
//
// Tool failures are fed back to the model and never end the turn; only a
// failing model call is a hard error. When the turn has progressed far
// enough to accumulate usage, the TurnResult is returned alongside the
// error.
func (l *Loop) RunTurn(ctx context.Context, req *TurnRequest, bus *stream.Bus) (*TurnResult, error) {
	defer bus.Close()

	if l.provider == nil {
		bus.Publish(models.NewError(ErrNoProvider))
		return nil, ErrNoProvider
	}

	if !l.limiter.Allow("turns:"+req.UserID, l.config.TurnLimit, l.config.TurnWindow) {
		err := fmt.Errorf("%w: turn limit is %d per %s", ErrTooManyRequests, l.config.TurnLimit, l.config.TurnWindow)
		bus.Publish(models.NewError(err))
		return nil, err
	}

	conv, err := l.resolveConversation(ctx, req)
	if err != nil {
		bus.Publish(models.NewError(err))
		return nil, err
	}

	hc, err := l.history.LoadContext(ctx, conv)
	if err != nil {
		bus.Publish(models.NewError(err))
		return nil, err
	}

	userMsg := &models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        req.Message,
	}
	if err := l.store.AppendMessage(ctx, userMsg); err != nil {
		err = fmt.Errorf("persist user message: %w", err)
		bus.Publish(models.NewError(err))
		return nil, err
	}

	transcript := toCompletionMessages(hc.Messages)
	transcript = append(transcript, CompletionMessage{
		Role:    string(models.RoleUser),
		Content: req.Message,
	})

	tools := l.toolDefinitions(req)
	toolCtx := catalog.ToolContext{
		UserID:          req.UserID,
		Role:            req.Role,
		TenantOverrides: req.TenantOverrides,
		PageHint:        req.PageHint,
	}

	result := &TurnResult{ConversationID: conv.ID}
	var toolsSeen map[string]bool

	for round := 0; round < l.config.MaxToolRounds; round++ {
		result.Rounds = round + 1

		text, toolCalls, roundUsage, err := l.streamRound(ctx, transcript, tools, bus)
		result.Usage.Add(roundUsage.InputTokens, roundUsage.OutputTokens)
		result.Usage.LatencyMs += roundUsage.LatencyMs
		if err != nil {
			// Upstream failure is terminal. Nothing further is attempted.
			err = fmt.Errorf("model call failed: %w", err)
			bus.Publish(models.NewError(err))
			return result, err
		}
		result.Text = text

		assistantMsg := &models.Message{
			ConversationID: conv.ID,
			Role:           models.RoleAssistant,
			Content:        text,
			ToolCalls:      toolCalls,
			InputTokens:    roundUsage.InputTokens,
			OutputTokens:   roundUsage.OutputTokens,
			LatencyMs:      roundUsage.LatencyMs,
			Model:          l.config.Model,
		}
		if err := l.store.AppendMessage(ctx, assistantMsg); err != nil {
			err = fmt.Errorf("persist assistant message: %w", err)
			bus.Publish(models.NewError(err))
			return result, err
		}

		if len(toolCalls) == 0 {
			// End of turn: the model answered without requesting tools.
			break
		}

		transcript = append(transcript, CompletionMessage{
			Role:      string(models.RoleAssistant),
			Content:   text,
			ToolCalls: toolCalls,
		})

		for _, call := range toolCalls {
			outcome := l.sandbox.Execute(ctx, conv.ID, assistantMsg.ID, call, toolCtx)
			bus.Publish(models.NewToolResult(call.ID, call.Name, outcome.Status, outcome.Result.Content))

			toolMsg := &models.Message{
				ConversationID: conv.ID,
				Role:           models.RoleToolResult,
				ToolResults:    []models.ToolResult{outcome.Result},
			}
			if err := l.store.AppendMessage(ctx, toolMsg); err != nil {
				err = fmt.Errorf("persist tool result: %w", err)
				bus.Publish(models.NewError(err))
				return result, err
			}
			transcript = append(transcript, CompletionMessage{
				Role:        string(models.RoleToolResult),
				ToolResults: []models.ToolResult{outcome.Result},
			})

			if toolsSeen == nil {
				toolsSeen = map[string]bool{}
			}
			if !toolsSeen[call.Name] {
				toolsSeen[call.Name] = true
				result.ToolsUsed = append(result.ToolsUsed, call.Name)
			}
		}
	}

	if followups := suggest.ForTools(result.ToolsUsed); len(followups) > 0 {
		bus.Publish(models.NewSuggestedFollowups(followups))
	}

	l.history.MaybeSummarize(ctx, conv)

	l.logger.Info("turn complete",
		"conversation", conv.ID,
		"rounds", result.Rounds,
		"tools", len(result.ToolsUsed),
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
	)
	return result, nil
}

// streamRound runs one model call, relaying text deltas and tool-use starts
// in arrival order, and returns the accumulated text, the requested tool
// calls, and this round's usage. Usage is reported even when the stream
// fails partway.
func (l *Loop) streamRound(ctx context.Context, transcript []CompletionMessage, tools []ToolDefinition, bus *stream.Bus) (string, []models.ToolCall, models.Usage, error) {
	started := time.Now()
	var usage models.Usage
	chunks, err := l.provider.Complete(ctx, &CompletionRequest{
		Model:     l.config.Model,
		System:    l.config.System,
		Messages:  transcript,
		Tools:     tools,
		MaxTokens: l.config.MaxTokens,
	})
	if err != nil {
		return "", nil, usage, err
	}

	var text strings.Builder
	var toolCalls []models.ToolCall
	for chunk := range chunks {
		if chunk.Error != nil {
			usage.LatencyMs = time.Since(started).Milliseconds()
			return "", nil, usage, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			bus.Publish(models.NewTextDelta(chunk.Text))
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
			bus.Publish(models.NewToolUseStart(*chunk.ToolCall))
		}
		if chunk.Done {
			usage.Add(chunk.InputTokens, chunk.OutputTokens)
		}
	}
	usage.LatencyMs = time.Since(started).Milliseconds()

	return text.String(), toolCalls, usage, nil
}

// resolveConversation loads the requested conversation or creates one,
// titling it from the opening message. Conversations that are still untitled,
// created before any user message existed, pick up a title from this turn.
func (l *Loop) resolveConversation(ctx context.Context, req *TurnRequest) (*models.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := l.store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		if conv.Title == "" {
			conv.Title = deriveTitle(req.Message)
			if err := l.store.SetConversationTitle(ctx, conv.ID, conv.Title); err != nil {
				// Titling is cosmetic; the turn proceeds.
				l.logger.Warn("failed to title conversation", "conversation", conv.ID, "error", err)
			}
		}
		return conv, nil
	}

	conv := &models.Conversation{
		TenantID: req.TenantID,
		UserID:   req.UserID,
		Title:    deriveTitle(req.Message),
	}
	if err := l.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// toolDefinitions builds the provider-facing tool list the caller's role is
// allowed to see this turn.
func (l *Loop) toolDefinitions(req *TurnRequest) []ToolDefinition {
	visible := l.catalog.List(req.Role, req.TenantOverrides, req.EnabledTools)
	defs := make([]ToolDefinition, 0, len(visible))
	for _, tool := range visible {
		defs = append(defs, ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	return defs
}

func toCompletionMessages(messages []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(messages)+2)
	for _, msg := range messages {
		out = append(out, CompletionMessage{
			Role:        string(msg.Role),
			Content:     msg.Content,
			ToolCalls:   msg.ToolCalls,
			ToolResults: msg.ToolResults,
		})
	}
	return out
}

// deriveTitle truncates the opening message to a display title.
func deriveTitle(message string) string {
	title := strings.TrimSpace(message)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	if utf8.RuneCountInString(title) <= titleMaxRunes {
		return title
	}
	runes := []rune(title)
	return string(runes[:titleMaxRunes]) + "…"
}
