// Package server exposes the assistant over HTTP: a streaming turn endpoint
// plus health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emanuele-galle/fodi-assistant/internal/agent"
	"github.com/emanuele-galle/fodi-assistant/internal/stream"
)

// Server serves conversational turns over SSE.
type Server struct {
	loop   *agent.Loop
	logger *slog.Logger
	http   *http.Server
}

// New creates a server bound to addr.
func New(addr string, loop *agent.Loop, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{loop: loop, logger: logger}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("POST /v1/turns", s.handleTurn)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting http server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, letting in-flight turns drain.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// turnRequest is the POST /v1/turns body.
type turnRequest struct {
	ConversationID  string          `json:"conversation_id,omitempty"`
	TenantID        string          `json:"tenant_id"`
	UserID          string          `json:"user_id"`
	Role            string          `json:"role"`
	TenantOverrides map[string]bool `json:"tenant_overrides,omitempty"`
	EnabledTools    []string        `json:"enabled_tools,omitempty"`
	Message         string          `json:"message"`
	PageHint        string          `json:"page_hint,omitempty"`
}

// handleTurn runs one turn and streams its events as SSE. Each event is
// written as `event: <type>` plus a JSON data line; the stream always ends
// with a done event. A client disconnect detaches the bus, letting the
// in-flight round finish without further emission.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Message == "" {
		http.Error(w, "user_id and message are required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bus := stream.NewBus()
	// A client disconnect must not abort the turn: in-flight tool side
	// effects and the current model round run to completion, with Detach as
	// the only disconnect consequence. The turn context therefore keeps the
	// request's values but not its cancellation.
	turnCtx := context.WithoutCancel(r.Context())
	go func() {
		_, err := s.loop.RunTurn(turnCtx, &agent.TurnRequest{
			ConversationID:  req.ConversationID,
			TenantID:        req.TenantID,
			UserID:          req.UserID,
			Role:            req.Role,
			TenantOverrides: req.TenantOverrides,
			EnabledTools:    req.EnabledTools,
			Message:         req.Message,
			PageHint:        req.PageHint,
		}, bus)
		if err != nil {
			s.logger.Warn("turn failed", "user", req.UserID, "error", err)
		}
	}()

	clientGone := r.Context().Done()
	for {
		select {
		case <-clientGone:
			bus.Detach()
			return
		case event, ok := <-bus.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("marshal stream event", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
