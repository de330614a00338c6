package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emanuele-galle/fodi-assistant/internal/agent"
	"github.com/emanuele-galle/fodi-assistant/internal/catalog"
	"github.com/emanuele-galle/fodi-assistant/internal/history"
	"github.com/emanuele-galle/fodi-assistant/internal/permission"
	"github.com/emanuele-galle/fodi-assistant/internal/ratelimit"
	"github.com/emanuele-galle/fodi-assistant/internal/sandbox"
	"github.com/emanuele-galle/fodi-assistant/internal/store"
	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

type textProvider struct {
	text string
}

func (p *textProvider) Name() string { return "fake" }

func (p *textProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	out := make(chan *agent.CompletionChunk, 2)
	out <- &agent.CompletionChunk{Text: p.text}
	out <- &agent.CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 5}
	close(out)
	return out, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWith(t, &textProvider{text: "hello there"})
}

func newTestServerWith(t *testing.T, provider agent.LLMProvider, tools ...catalog.Tool) *Server {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	gate := permission.NewRoleGate()
	cat := catalog.New(gate, tools)
	limiter := ratelimit.NewKeyedLimiter()
	sb := sandbox.New(cat, gate, limiter, st, sandbox.DefaultConfig(), slog.Default())
	hist := history.NewManager(st, nil, slog.Default())
	loop := agent.NewLoop(provider, sb, cat, hist, st, limiter, agent.Config{}, slog.Default())

	return New("127.0.0.1:0", loop, slog.Default())
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestTurnStreamsSSE(t *testing.T) {
	s := newTestServer(t)
	body := `{"tenant_id":"t1","user_id":"u1","role":"admin","message":"hi"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/turns", strings.NewReader(body))
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	out := rec.Body.String()
	if !strings.Contains(out, "event: text_delta") {
		t.Errorf("missing text_delta event:\n%s", out)
	}
	if !strings.Contains(out, "hello there") {
		t.Errorf("missing streamed text:\n%s", out)
	}
	// done is always the final event.
	if !strings.HasSuffix(strings.TrimSpace(out), `{"type":"done"}`) {
		t.Errorf("stream must end with done:\n%s", out)
	}
}

// toolRoundProvider requests one tool call, then answers with text. The
// finished channel closes when the final round has streamed.
type toolRoundProvider struct {
	calls    atomic.Int64
	finished chan struct{}
}

func (p *toolRoundProvider) Name() string { return "fake" }

func (p *toolRoundProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	out := make(chan *agent.CompletionChunk, 2)
	if p.calls.Add(1) == 1 {
		out <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
			ID:    "call-1",
			Name:  "slow_lookup",
			Input: json.RawMessage(`{}`),
		}}
	} else {
		out <- &agent.CompletionChunk{Text: "all done"}
		defer close(p.finished)
	}
	out <- &agent.CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 5}
	close(out)
	return out, nil
}

func TestTurnDisconnectLetsRoundFinish(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool
	tool := &catalog.Definition{
		ToolName:        "slow_lookup",
		ToolDescription: "slow lookup",
		ToolModule:      "tasks",
		ToolPermission:  permission.PermRead,
		InputSchema:     json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, input json.RawMessage, tc catalog.ToolContext) (*catalog.Result, error) {
			close(started)
			select {
			case <-ctx.Done():
				sawCancel.Store(true)
				return nil, ctx.Err()
			case <-time.After(300 * time.Millisecond):
			}
			return catalog.Ok(map[string]any{"found": true}), nil
		},
	}
	provider := &toolRoundProvider{finished: make(chan struct{})}
	s := newTestServerWith(t, provider, tool)

	reqCtx, cancel := context.WithCancel(context.Background())
	body := `{"tenant_id":"t1","user_id":"u1","role":"admin","message":"look it up"}`
	req := httptest.NewRequest("POST", "/v1/turns", strings.NewReader(body)).WithContext(reqCtx)
	rec := httptest.NewRecorder()

	served := make(chan struct{})
	go func() {
		s.Handler().ServeHTTP(rec, req)
		close(served)
	}()

	// Drop the client while the tool is mid-execution.
	<-started
	cancel()
	<-served

	select {
	case <-provider.finished:
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not run to completion after client disconnect")
	}
	if sawCancel.Load() {
		t.Fatal("in-flight tool observed the client disconnect")
	}
	if got := provider.calls.Load(); got != 2 {
		t.Errorf("model rounds = %d, want 2", got)
	}
}

func TestTurnValidation(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing message", `{"user_id":"u1"}`},
		{"missing user", `{"message":"hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/v1/turns", strings.NewReader(tt.body))
			s.Handler().ServeHTTP(rec, req)
			if rec.Code != 400 {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}
