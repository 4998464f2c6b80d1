// Package api implements the HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/merchkit/lister-agent/internal/buildinfo"
	"github.com/merchkit/lister-agent/internal/memory"
	"github.com/merchkit/lister-agent/internal/turn"
	"github.com/merchkit/lister-agent/internal/usage"
	"github.com/merchkit/lister-agent/internal/workflow"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logger.Debug("failed to write error response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address     string
	port        int
	turns       *turn.Handler
	workflows   *workflow.Store
	governor    *usage.Governor
	compactor   *memory.Compactor
	recentLimit int
	logger      *slog.Logger
	server      *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, turns *turn.Handler, workflows *workflow.Store, governor *usage.Governor, compactor *memory.Compactor, recentLimit int, logger *slog.Logger) *Server {
	return &Server{
		address:     address,
		port:        port,
		turns:       turns,
		workflows:   workflows,
		governor:    governor,
		compactor:   compactor,
		recentLimit: recentLimit,
		logger:      logger,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Turn endpoint
	mux.HandleFunc("POST /v1/turn", s.handleTurn)

	// Workflow endpoints
	mux.HandleFunc("GET /v1/workflows/{conversation}", s.handleWorkflowActive)
	mux.HandleFunc("GET /v1/workflows/{conversation}/history", s.handleWorkflowHistory)
	mux.HandleFunc("POST /v1/workflow/{id}/pause", s.handleWorkflowPause)
	mux.HandleFunc("POST /v1/workflow/{id}/resume", s.handleWorkflowResume)
	mux.HandleFunc("POST /v1/workflow/{id}/cancel", s.handleWorkflowCancel)

	// Usage and memory introspection
	mux.HandleFunc("GET /v1/usage/{merchant}", s.handleUsageSummary)
	mux.HandleFunc("GET /v1/memory/{conversation}", s.handleMemoryContext)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // agent turns can be slow
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// TurnRequest is the body of POST /v1/turn.
type TurnRequest struct {
	ConversationID string           `json:"conversation_id"`
	MerchantID     string           `json:"merchant_id"`
	Message        string           `json:"message"`
	History        []memory.Message `json:"history,omitempty"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if req.ConversationID == "" || req.MerchantID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "conversation_id, merchant_id and message are required", s.logger)
		return
	}

	resp, err := s.turns.Handle(r.Context(), turn.Request{
		ConversationID: req.ConversationID,
		MerchantID:     req.MerchantID,
		Message:        req.Message,
		History:        req.History,
	})
	if err != nil {
		s.logger.Error("turn failed", "conversation", req.ConversationID, "error", err)
		writeError(w, http.StatusBadGateway, "turn failed", s.logger)
		return
	}
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleWorkflowActive(w http.ResponseWriter, r *http.Request) {
	state, err := s.workflows.Active(r.Context(), r.PathValue("conversation"))
	if errors.Is(err, workflow.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no active workflow", s.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "workflow lookup failed", s.logger)
		return
	}
	writeJSON(w, state, s.logger)
}

func (s *Server) handleWorkflowHistory(w http.ResponseWriter, r *http.Request) {
	states, err := s.workflows.History(r.Context(), r.PathValue("conversation"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "workflow history failed", s.logger)
		return
	}
	writeJSON(w, map[string]any{"workflows": states}, s.logger)
}

func (s *Server) handleWorkflowPause(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.workflows.Pause)
}

func (s *Server) handleWorkflowResume(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.workflows.Resume)
}

func (s *Server) handleWorkflowCancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.workflows.Cancel)
}

// transition applies a status change; a false result means the record
// is missing or not in an eligible state, which reads as a conflict.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (bool, error)) {
	ok, err := fn(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "workflow transition failed", s.logger)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "workflow not in an eligible state", s.logger)
		return
	}
	writeJSON(w, map[string]bool{"ok": true}, s.logger)
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.governor.Summarize(r.Context(), r.PathValue("merchant"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "usage summary failed", s.logger)
		return
	}
	writeJSON(w, summary, s.logger)
}

func (s *Server) handleMemoryContext(w http.ResponseWriter, r *http.Request) {
	cc, err := s.compactor.BuildCondensedContext(r.Context(), r.PathValue("conversation"), s.recentLimit, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "condensed context failed", s.logger)
		return
	}
	writeJSON(w, cc, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]string{"service": "lister", "version": buildinfo.Version}, s.logger)
}
