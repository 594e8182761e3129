// Package server exposes the bot over HTTP: a health probe, a read-only view
// of the user's memory, a request/response chat endpoint and a websocket chat.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Khin-96/KhinsLLM/common/version"
	"github.com/Khin-96/KhinsLLM/internal/khins/agent"
	"github.com/Khin-96/KhinsLLM/internal/khins/llm"
	"github.com/Khin-96/KhinsLLM/internal/khins/memory"
)

// maxChatBody caps the JSON body accepted by POST /chat.
const maxChatBody = 64 << 10

// Conversation is what the server needs from the agent.
type Conversation interface {
	HandleTurn(ctx context.Context, turn agent.Turn) (agent.Reply, error)
	Greeting() string
	User() string
	LLMAvailable() bool
	Redact(text string) string
}

// MemoryReader is the read side of the memory store.
type MemoryReader interface {
	Entries(userID string) []memory.Entry
	Summary(userID string) string
	Len(userID string) int
}

// Server is the HTTP transport. It is optional; the bot runs without it when
// the address is empty.
type Server struct {
	addr      string
	agent     Conversation
	memory    MemoryReader
	logger    *slog.Logger
	startedAt time.Time
	mux       *http.ServeMux
	server    *http.Server

	// baseCtx outlives individual requests so websocket turns are cancelled
	// only on shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

type rootResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

type healthResponse struct {
	Status        string  `json:"status"`
	MemoryEntries int     `json:"memory_entries"`
	LLM           bool    `json:"llm"`
	Version       string  `json:"version"`
	Commit        string  `json:"commit"`
	UptimeSecs    float64 `json:"uptime_seconds"`
}

type memoryResponse struct {
	User     string         `json:"user"`
	Memories []memory.Entry `json:"memories"`
	Summary  string         `json:"summary"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
	Status   string `json:"status"`
	TraceID  string `json:"trace_id,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// New creates the server and registers its routes (it does not listen).
func New(addr string, conv Conversation, mem MemoryReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:       addr,
		agent:      conv,
		memory:     mem,
		logger:     logger,
		startedAt:  time.Now(),
		mux:        http.NewServeMux(),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /memory", s.handleMemory)
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s
}

// ServeHTTP implements http.Handler so the routes can be exercised with
// httptest without a live listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start begins listening in the background. It returns once the listener is
// bound, so the port is open when Start returns.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.addr, err)
	}

	// WriteTimeout is left unset: replies wait on the LLM, and websocket
	// connections are long-lived.
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop cancels in-flight websocket sessions and shuts the server down.
func (s *Server) Stop() {
	s.cancelBase()
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "err", err)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		Message: "KhinsGPT Agent API is running",
		Status:  "healthy",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "healthy",
		MemoryEntries: s.memory.Len(s.agent.User()),
		LLM:           s.agent.LLMAvailable(),
		Version:       version.Version,
		Commit:        version.GitCommit,
		UptimeSecs:    time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleMemory(w http.ResponseWriter, _ *http.Request) {
	user := s.agent.User()
	entries := s.memory.Entries(user)
	if entries == nil {
		entries = []memory.Entry{}
	}
	writeJSON(w, http.StatusOK, memoryResponse{
		User:     user,
		Memories: entries,
		Summary:  s.memory.Summary(user),
	})
}

// handleChat runs one turn. The message comes from the "message" query
// parameter or, failing that, a JSON body {"message": "..."}.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if message == "" && r.Body != nil && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req chatRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid JSON body"})
			return
		}
		message = req.Message
	}

	reply, err := s.agent.HandleTurn(r.Context(), agent.Turn{Text: message, Source: agent.SourceHTTP})
	if err != nil {
		code, detail := chatError(err)
		detail = s.agent.Redact(detail)
		if code >= 500 {
			s.logger.Error("chat: turn failed", "trace_id", reply.TraceID, "err", s.agent.Redact(err.Error()))
		}
		writeJSON(w, code, errorResponse{Detail: detail})
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response: reply.Text,
		Status:   "success",
		TraceID:  reply.TraceID,
	})
}

// chatError maps a turn error to a status code and a client-facing detail.
func chatError(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		return http.StatusBadRequest, "message must not be empty"
	case errors.Is(err, agent.ErrRateLimited):
		return http.StatusTooManyRequests, "rate limit exceeded, try again shortly"
	case errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable, "LLM not initialized"
	default:
		return http.StatusInternalServerError, "Error generating response: " + err.Error()
	}
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: failed to encode JSON response", "err", err)
	}
}
