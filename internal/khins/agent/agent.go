// Package agent runs one conversation turn: it records the user's message in
// memory, builds the prompt from the memory context, asks the LLM for a reply
// and records that reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Khin-96/KhinsLLM/common/trace"
	"github.com/Khin-96/KhinsLLM/internal/khins/llm"
	"github.com/Khin-96/KhinsLLM/internal/khins/memory"
	"github.com/Khin-96/KhinsLLM/internal/khins/observability"
)

// Apology is sent (and remembered) when reply generation fails.
const Apology = "Um, sorry, I hit an error while thinking."

// silentReply is remembered in place of a blank reply.
const silentReply = "[Tool executed silently]"

var (
	// ErrRateLimited is returned when a user exceeds the turn rate limit.
	ErrRateLimited = errors.New("agent: rate limit exceeded")

	// ErrEmptyMessage is returned for a turn without text.
	ErrEmptyMessage = errors.New("agent: message must not be empty")
)

// Source identifies the transport a turn arrived on.
type Source string

const (
	SourceChat      Source = "chat"
	SourceHTTP      Source = "http"
	SourceWebSocket Source = "websocket"
	SourceMatrix    Source = "matrix"
)

// Turn is one incoming user message.
type Turn struct {
	Text   string
	Source Source
}

// Reply is the outcome of a turn.
type Reply struct {
	// Text is the reply to deliver. Empty when Silent.
	Text string
	// Silent is set when the model produced a blank reply; nothing should be
	// sent to the user.
	Silent bool
	// TraceID identifies the turn in logs.
	TraceID string
	Mode    Mode
}

// Config configures an Agent.
type Config struct {
	// User is the identity whose memory is read and written.
	User string
	// Persona is the system instruction.
	Persona     string
	MaxTokens   int
	Temperature float64
	// RateLimit turns per RateWindow per user. Zero selects the defaults.
	RateLimit  int
	RateWindow time.Duration
	// Timeout bounds a single reply generation. Zero means no extra bound.
	Timeout time.Duration
	// Secrets are credential values scrubbed from logged and returned
	// error text.
	Secrets []string
}

// Agent handles conversation turns for a single user identity. It is safe for
// concurrent use; memory updates are serialised by the memory store.
type Agent struct {
	cfg       Config
	store     *memory.Store
	assembler *memory.ContextAssembler
	provider  llm.Provider
	limiter   *RateLimiter
	logger    *slog.Logger

	mu   sync.Mutex
	mode Mode
}

// New creates an Agent. provider may be nil or llm.Unavailable{}, in which
// case every turn fails with llm.ErrUnavailable.
func New(cfg Config, store *memory.Store, provider llm.Provider, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = llm.Unavailable{}
	}
	return &Agent{
		cfg:       cfg,
		store:     store,
		assembler: memory.NewContextAssembler(store),
		provider:  provider,
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		logger:    logger,
		mode:      ModeChaotic,
	}
}

// User returns the identity this agent converses with.
func (a *Agent) User() string { return a.cfg.User }

// Memory returns the backing memory store.
func (a *Agent) Memory() *memory.Store { return a.store }

// LLMAvailable reports whether replies can be generated.
func (a *Agent) LLMAvailable() bool { return llm.IsAvailable(a.provider) }

// Mode returns the current conversational mode.
func (a *Agent) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Redact replaces every configured secret in text with [REDACTED].
func (a *Agent) Redact(text string) string {
	return observability.RedactSecrets(text, a.cfg.Secrets...)
}

// Greeting returns the opening message listing what the bot remembers.
func (a *Agent) Greeting() string {
	return fmt.Sprintf("Hi %s! I remember these about you:\n%s", a.cfg.User, a.assembler.BuildContext(a.cfg.User))
}

// HandleTurn processes one user message.
//
// The user's message is recorded before generation. On success the reply is
// recorded as "Assistant: <reply>" (or the silent marker for a blank reply).
// When generation fails the apology is recorded and returned in Reply.Text
// together with the wrapped error, so a transport can show it or map the
// error to a status code. llm.ErrUnavailable, ErrRateLimited and
// ErrEmptyMessage are returned before anything is recorded.
func (a *Agent) HandleTurn(ctx context.Context, turn Turn) (Reply, error) {
	ctx = trace.Ensure(ctx)
	traceID := trace.FromContext(ctx)
	logger := observability.WithTrace(ctx, a.logger).With("source", string(turn.Source))

	text := strings.TrimSpace(turn.Text)
	if text == "" {
		return Reply{TraceID: traceID}, ErrEmptyMessage
	}
	if !llm.IsAvailable(a.provider) {
		return Reply{TraceID: traceID}, llm.ErrUnavailable
	}
	if !a.limiter.Allow(a.cfg.User) {
		logger.Warn("agent: turn rate limited", "user", a.cfg.User)
		return Reply{TraceID: traceID}, ErrRateLimited
	}

	mode := a.switchMode(text, logger)

	if err := a.store.Append(ctx, a.cfg.User, userPrefix(turn.Source)+text); err != nil {
		return Reply{TraceID: traceID}, fmt.Errorf("agent: record user message: %w", err)
	}

	memoryContext := a.assembler.BuildContext(a.cfg.User)
	req := llm.CompletionRequest{
		System: a.systemPrompt(mode),
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("User said: %s\n\nMemory context:\n%s", text, memoryContext),
		}},
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	}

	genCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := a.provider.Complete(genCtx, req)
	if err != nil {
		logger.Error("agent: reply generation failed", "err", a.Redact(err.Error()), "elapsed", time.Since(start))
		a.remember(ctx, logger, "Assistant: "+Apology)
		return Reply{Text: Apology, TraceID: traceID, Mode: mode}, fmt.Errorf("agent: generate reply: %w", err)
	}

	reply := strings.TrimSpace(resp.Content)
	logger.Info("agent: turn complete",
		"reply_len", len(reply),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed", time.Since(start),
	)

	if reply == "" {
		a.remember(ctx, logger, "Assistant: "+silentReply)
		return Reply{Silent: true, TraceID: traceID, Mode: mode}, nil
	}
	a.remember(ctx, logger, "Assistant: "+reply)
	return Reply{Text: reply, TraceID: traceID, Mode: mode}, nil
}

func (a *Agent) remember(ctx context.Context, logger *slog.Logger, text string) {
	if err := a.store.Append(ctx, a.cfg.User, text); err != nil {
		logger.Error("agent: record assistant message", "err", err)
	}
}

func (a *Agent) switchMode(text string, logger *slog.Logger) Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := detectMode(text); ok && m != a.mode {
		logger.Info("agent: mode switched", "from", string(a.mode), "to", string(m))
		a.mode = m
	}
	return a.mode
}

func (a *Agent) systemPrompt(mode Mode) string {
	if a.cfg.Persona == "" {
		return mode.instruction()
	}
	return a.cfg.Persona + "\n\n" + mode.instruction()
}

func userPrefix(src Source) string {
	if src == SourceHTTP {
		return "User (HTTP): "
	}
	return "User: "
}
