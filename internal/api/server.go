// Package api implements the HTTP front end. Every handler is thin:
// the orchestrator does the work.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cofina-ai/cofina-agent/internal/agent"
	"github.com/cofina-ai/cofina-agent/internal/buildinfo"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	orch    *agent.Orchestrator
	logger  *slog.Logger
	server  *http.Server
	ws      websocket.Upgrader
}

// NewServer creates a new API server.
func NewServer(address string, port int, orch *agent.Orchestrator, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		orch:    orch,
		logger:  logger,
		ws: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/chat/ws", s.handleChatWS)
	mux.HandleFunc("POST /v1/session/{id}/logout", s.handleLogout)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
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
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
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

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "CoFina",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// ChatRequest is one user message. SessionID is optional; an empty id
// starts a new conversation and the reply carries the assigned id.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the assistant's reply.
type ChatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

// handleChat runs one conversational turn.
// POST /v1/chat {"message": "how big should my emergency fund be?"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	turn, err := s.orch.RunTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.logger.Error("turn failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "agent error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{Reply: turn.Reply, SessionID: turn.SessionID}, s.logger)
}

// handleLogout ends a session and returns the replacement id.
// POST /v1/session/{id}/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.errorResponse(w, http.StatusBadRequest, "session id is required")
		return
	}

	newID := s.orch.Logout(id)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"session_id": newID}, s.logger)
}

// handleChatWS upgrades to a websocket and runs turns over it. Each
// client frame is a ChatRequest; each server frame is a ChatResponse.
// The session sticks to the connection once assigned.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.ws.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sessionID := ""
	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		if req.Message == "" {
			if err := conn.WriteJSON(map[string]string{"error": "message is required"}); err != nil {
				return
			}
			continue
		}
		if req.SessionID != "" {
			sessionID = req.SessionID
		}

		turn, err := s.orch.RunTurn(r.Context(), sessionID, req.Message)
		if err != nil {
			s.logger.Error("turn failed", "error", err)
			if err := conn.WriteJSON(map[string]string{"error": "agent error"}); err != nil {
				return
			}
			continue
		}
		sessionID = turn.SessionID

		if err := conn.WriteJSON(ChatResponse{Reply: turn.Reply, SessionID: turn.SessionID}); err != nil {
			return
		}
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}
