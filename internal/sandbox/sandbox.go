// Package sandbox wraps a single tool invocation with authorization, rate
// limiting, input validation, timing, structured error capture, and durable
// audit logging. A tool failure never escapes as a panic or error to the
// surrounding loop; callers always receive a structured outcome.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/emanuele-galle/fodi-assistant/internal/catalog"
	"github.com/emanuele-galle/fodi-assistant/internal/permission"
	"github.com/emanuele-galle/fodi-assistant/internal/ratelimit"
	"github.com/emanuele-galle/fodi-assistant/internal/store"
	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

// Config bounds tool execution.
type Config struct {
	// ToolCallLimit is the per-user tool call budget per window.
	// Default: 50.
	ToolCallLimit int

	// ToolCallWindow is the budget window. Default: 60s.
	ToolCallWindow time.Duration

	// PerToolTimeout caps a single executor run. Default: 30s.
	PerToolTimeout time.Duration
}

// DefaultConfig returns the stock sandbox limits.
func DefaultConfig() Config {
	return Config{
		ToolCallLimit:  50,
		ToolCallWindow: 60 * time.Second,
		PerToolTimeout: 30 * time.Second,
	}
}

// Outcome is the structured result of one sandboxed invocation. Result is
// always populated and safe to feed back to the model.
type Outcome struct {
	Result models.ToolResult
	Status models.ExecutionStatus
}

// Sandbox executes tool calls on behalf of the agent loop.
type Sandbox struct {
	catalog *catalog.Catalog
	gate    permission.Gate
	limiter ratelimit.Limiter
	store   store.Store
	config  Config
	metrics *Metrics
	logger  *slog.Logger
}

// New creates a sandbox over the given collaborators. store may be nil in
// tests; audit records are then skipped.
func New(cat *catalog.Catalog, gate permission.Gate, limiter ratelimit.Limiter, st store.Store, config Config, logger *slog.Logger) *Sandbox {
	if config.ToolCallLimit <= 0 {
		config.ToolCallLimit = 50
	}
	if config.ToolCallWindow <= 0 {
		config.ToolCallWindow = 60 * time.Second
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{
		catalog: cat,
		gate:    gate,
		limiter: limiter,
		store:   st,
		config:  config,
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// Execute runs one tool call for the message that requested it. The only
// observable side effects beyond the tool's own are the audit record and the
// rate-limit counter update.
func (s *Sandbox) Execute(ctx context.Context, conversationID, messageID string, call models.ToolCall, tc catalog.ToolContext) Outcome {
	started := time.Now()

	tool, ok := s.catalog.Find(call.Name)
	if !ok {
		return s.finish(ctx, conversationID, messageID, call, started,
			models.ExecutionError, catalog.Fail("tool not found: %s", call.Name))
	}

	if s.gate != nil && !s.gate.HasPermission(tc.Role, tool.Module(), tool.Permission(), tc.TenantOverrides) {
		s.logger.Info("tool call denied",
			"tool", call.Name, "user", tc.UserID, "role", tc.Role, "module", tool.Module())
		return s.finish(ctx, conversationID, messageID, call, started,
			models.ExecutionDenied,
			catalog.Fail("permission denied: your role does not allow %s on %s", tool.Permission(), tool.Module()))
	}

	if s.limiter != nil && !s.limiter.Allow("tools:"+tc.UserID, s.config.ToolCallLimit, s.config.ToolCallWindow) {
		return s.finish(ctx, conversationID, messageID, call, started,
			models.ExecutionError,
			catalog.Fail("rate limit exceeded: at most %d tool calls per %s", s.config.ToolCallLimit, s.config.ToolCallWindow))
	}

	if err := catalog.ValidateInput(tool, call.Input); err != nil {
		return s.finish(ctx, conversationID, messageID, call, started,
			models.ExecutionError, catalog.Fail("invalid input: %v", err))
	}

	result := s.run(ctx, tool, call, tc)
	status := models.ExecutionSuccess
	if !result.Success {
		status = models.ExecutionError
	}
	return s.finish(ctx, conversationID, messageID, call, started, status, result)
}

// run invokes the executor with a timeout and panic boundary. A panicking
// executor is treated identically to one returning a failure, with the panic
// message as the error text.
func (s *Sandbox) run(ctx context.Context, tool catalog.Tool, call models.ToolCall, tc catalog.ToolContext) (result *catalog.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool executor panicked", "tool", call.Name, "panic", r)
			result = catalog.Fail("%v", r)
		}
	}()

	toolCtx, cancel := context.WithTimeout(ctx, s.config.PerToolTimeout)
	defer cancel()

	res, err := tool.Execute(toolCtx, call.Input, tc)
	if err != nil {
		return catalog.Fail("%v", err)
	}
	if res == nil {
		return catalog.Fail("tool %s returned no result", call.Name)
	}
	return res
}

// finish persists the audit record and assembles the outcome. Audit
// persistence is best-effort; a storage failure is logged, never surfaced.
func (s *Sandbox) finish(ctx context.Context, conversationID, messageID string, call models.ToolCall, started time.Time, status models.ExecutionStatus, result *catalog.Result) Outcome {
	elapsed := time.Since(started)
	payload := result.JSON()

	s.metrics.observe(call.Name, string(status), elapsed.Seconds())

	if s.store != nil {
		exec := &models.ToolExecution{
			ConversationID: conversationID,
			MessageID:      messageID,
			ToolName:       call.Name,
			Input:          call.Input,
			Status:         status,
			DurationMs:     elapsed.Milliseconds(),
			Error:          result.Error,
		}
		if status == models.ExecutionSuccess {
			exec.Output = json.RawMessage(payload)
		}
		if err := s.store.RecordToolExecution(ctx, exec); err != nil {
			s.logger.Error("failed to persist tool execution",
				"tool", call.Name, "conversation", conversationID, "error", err)
		}
	}

	s.logger.Debug("tool execution finished",
		"tool", call.Name, "status", status, "duration_ms", elapsed.Milliseconds())

	return Outcome{
		Status: status,
		Result: models.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    payload,
			IsError:    !result.Success,
		},
	}
}

// String renders an outcome status for event payloads.
func (o Outcome) String() string {
	return fmt.Sprintf("%s:%s", o.Result.Name, o.Status)
}
