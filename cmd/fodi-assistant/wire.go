package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emanuele-galle/fodi-assistant/internal/agent"
	"github.com/emanuele-galle/fodi-assistant/internal/catalog"
	"github.com/emanuele-galle/fodi-assistant/internal/config"
	"github.com/emanuele-galle/fodi-assistant/internal/history"
	"github.com/emanuele-galle/fodi-assistant/internal/permission"
	"github.com/emanuele-galle/fodi-assistant/internal/providers"
	"github.com/emanuele-galle/fodi-assistant/internal/ratelimit"
	"github.com/emanuele-galle/fodi-assistant/internal/sandbox"
	"github.com/emanuele-galle/fodi-assistant/internal/server"
	"github.com/emanuele-galle/fodi-assistant/internal/store"
	"github.com/emanuele-galle/fodi-assistant/internal/stream"
	"github.com/emanuele-galle/fodi-assistant/internal/tools/calendar"
	"github.com/emanuele-galle/fodi-assistant/internal/tools/crm"
	"github.com/emanuele-galle/fodi-assistant/internal/tools/tasks"
	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

// app bundles the wired assistant core.
type app struct {
	loop    *agent.Loop
	history *history.Manager
	store   store.Store
	logger  *slog.Logger
}

func (a *app) close() {
	a.history.Wait()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close", "error", err)
	}
}

// buildApp assembles the full dependency graph from configuration: store,
// permission gate, capability catalog, rate limiter, sandbox, provider,
// history manager, and the agent loop.
func buildApp(cfg *config.Config) (*app, error) {
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	st, err := openStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	gate := permission.NewRoleGate()
	cat := catalog.New(gate,
		tasks.Tools(tasks.NewService()),
		crm.Tools(crm.NewService()),
		calendar.Tools(calendar.NewService()),
	)
	limiter := ratelimit.NewKeyedLimiter()

	sb := sandbox.New(cat, gate, limiter, st, sandbox.Config{
		ToolCallLimit:  cfg.Agent.ToolCallLimit,
		ToolCallWindow: cfg.Agent.ToolCallWindow,
	}, logger)

	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		MaxRetries:   cfg.LLM.MaxRetries,
		RetryDelay:   cfg.LLM.RetryDelay,
		DefaultModel: cfg.LLM.Model,
	})
	if err != nil {
		return nil, err
	}

	hist := history.NewManager(st, agent.NewSummarizer(provider, cfg.LLM.Model), logger)
	loop := agent.NewLoop(provider, sb, cat, hist, st, limiter, agent.Config{
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		MaxTokens:     cfg.Agent.MaxTokens,
		Model:         cfg.LLM.Model,
		System:        cfg.Agent.System,
		TurnLimit:     cfg.Agent.TurnLimit,
		TurnWindow:    cfg.Agent.TurnWindow,
	}, logger)

	return &app{loop: loop, history: hist, store: st, logger: logger}, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func openStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewPostgresStore(cfg.URL, store.DefaultPostgresConfig())
	case "sqlite":
		return store.OpenSQLite(cfg.Path)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, a.loop, a.logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		a.logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runChat runs one local turn as a fixed local user and prints the streamed
// response to stdout.
func runChat(ctx context.Context, configPath, role, message string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Local chat never needs a durable transcript.
	cfg.Database.Driver = "memory"

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	bus := stream.NewBus()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range bus.Events() {
			switch event.Type {
			case models.EventTextDelta:
				if data, ok := event.Data.(models.TextDeltaData); ok {
					fmt.Print(data.Text)
				}
			case models.EventToolUseStart:
				if data, ok := event.Data.(models.ToolUseStartData); ok {
					fmt.Printf("\n[tool: %s]\n", data.Name)
				}
			case models.EventToolResult:
				if data, ok := event.Data.(models.ToolResultData); ok {
					fmt.Printf("[%s: %s]\n", data.Status, data.Name)
				}
			case models.EventSuggestedFollowups:
				if suggestions, ok := event.Data.([]string); ok {
					fmt.Println("\n\nSuggestions:")
					for _, s := range suggestions {
						fmt.Println("  -", s)
					}
				}
			case models.EventError:
				if data, ok := event.Data.(models.ErrorData); ok {
					fmt.Fprintln(os.Stderr, "\nerror:", data.Message)
				}
			}
		}
	}()

	result, err := a.loop.RunTurn(ctx, &agent.TurnRequest{
		TenantID: "local",
		UserID:   "local",
		Role:     role,
		Message:  message,
	}, bus)
	<-done
	if err != nil {
		return err
	}

	fmt.Printf("\n\n[%d rounds, %d in / %d out tokens]\n",
		result.Rounds, result.Usage.InputTokens, result.Usage.OutputTokens)
	return nil
}
