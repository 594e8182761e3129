package agent_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/Khin-96/KhinsLLM/internal/khins/agent"
	"github.com/Khin-96/KhinsLLM/internal/khins/llm"
	"github.com/Khin-96/KhinsLLM/internal/khins/memory"
)

type fakeProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []llm.CompletionRequest
}

func (f *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.reply}, nil
}

func (f *fakeProvider) lastRequest() llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func newTestAgent(t *testing.T, provider llm.Provider, cfg agent.Config) *agent.Agent {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore(context.Background(), memory.StoreConfig{}, nil, nil, nil, logger)
	t.Cleanup(store.Close)
	if cfg.User == "" {
		cfg.User = "Kinga"
	}
	return agent.New(cfg, store, provider, logger)
}

func texts(entries []memory.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

func TestHandleTurn_RecordsBothSides(t *testing.T) {
	p := &fakeProvider{reply: "  Yo Kinga!  "}
	a := newTestAgent(t, p, agent.Config{Persona: "You are Khin."})

	reply, err := a.HandleTurn(context.Background(), agent.Turn{Text: "hello", Source: agent.SourceChat})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if reply.Text != "Yo Kinga!" || reply.Silent {
		t.Errorf("reply = %+v", reply)
	}
	if !strings.HasPrefix(reply.TraceID, "t_") {
		t.Errorf("TraceID = %q, want a generated trace ID", reply.TraceID)
	}

	got := texts(a.Memory().Entries("Kinga"))
	want := []string{"User: hello", "Assistant: Yo Kinga!"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("memory = %q, want %q", got, want)
	}
}

func TestHandleTurn_PromptCarriesMemoryContext(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	a := newTestAgent(t, p, agent.Config{Persona: "You are Khin.", MaxTokens: 321, Temperature: 0.8})

	if _, err := a.HandleTurn(context.Background(), agent.Turn{Text: "I love jollof", Source: agent.SourceChat}); err != nil {
		t.Fatal(err)
	}

	req := p.lastRequest()
	want := "User said: I love jollof\n\nMemory context:\n- User: I love jollof"
	if len(req.Messages) != 1 || req.Messages[0].Content != want {
		t.Errorf("prompt = %q, want %q", req.Messages[0].Content, want)
	}
	if !strings.HasPrefix(req.System, "You are Khin.") {
		t.Errorf("System = %q", req.System)
	}
	if req.MaxTokens != 321 || req.Temperature != 0.8 {
		t.Errorf("sampling = %d/%v", req.MaxTokens, req.Temperature)
	}
}

func TestHandleTurn_HTTPPrefix(t *testing.T) {
	a := newTestAgent(t, &fakeProvider{reply: "ok"}, agent.Config{})

	if _, err := a.HandleTurn(context.Background(), agent.Turn{Text: "ping", Source: agent.SourceHTTP}); err != nil {
		t.Fatal(err)
	}
	if got := a.Memory().Entries("Kinga")[0].Text; got != "User (HTTP): ping" {
		t.Errorf("entry = %q, want %q", got, "User (HTTP): ping")
	}
}

func TestHandleTurn_BlankReplyIsSilent(t *testing.T) {
	a := newTestAgent(t, &fakeProvider{reply: "   "}, agent.Config{})

	reply, err := a.HandleTurn(context.Background(), agent.Turn{Text: "play some music", Source: agent.SourceChat})
	if err != nil {
		t.Fatal(err)
	}
	if !reply.Silent || reply.Text != "" {
		t.Errorf("reply = %+v, want silent", reply)
	}
	entries := a.Memory().Entries("Kinga")
	if got := entries[len(entries)-1].Text; got != "Assistant: [Tool executed silently]" {
		t.Errorf("last entry = %q", got)
	}
}

func TestHandleTurn_GenerationFailure(t *testing.T) {
	boom := errors.New("upstream 500")
	a := newTestAgent(t, &fakeProvider{err: boom}, agent.Config{})

	reply, err := a.HandleTurn(context.Background(), agent.Turn{Text: "hi", Source: agent.SourceChat})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped upstream error", err)
	}
	if reply.Text != agent.Apology {
		t.Errorf("reply = %q, want apology", reply.Text)
	}
	got := texts(a.Memory().Entries("Kinga"))
	if len(got) != 2 || got[1] != "Assistant: "+agent.Apology {
		t.Errorf("memory = %q", got)
	}
}

func TestHandleTurn_FailureLogOmitsSecrets(t *testing.T) {
	const key = "xai-0123456789abcdef"
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	store := memory.NewStore(context.Background(), memory.StoreConfig{}, nil, nil, nil, logger)
	t.Cleanup(store.Close)
	provider := &fakeProvider{err: errors.New("401 Unauthorized: incorrect API key " + key)}
	a := agent.New(agent.Config{User: "Kinga", Secrets: []string{key}}, store, provider, logger)

	if _, err := a.HandleTurn(context.Background(), agent.Turn{Text: "hi", Source: agent.SourceChat}); err == nil {
		t.Fatal("expected a generation error")
	}
	out := buf.String()
	if strings.Contains(out, key) {
		t.Errorf("log contains the API key:\n%s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("log does not mark the redaction:\n%s", out)
	}
}

func TestRedact(t *testing.T) {
	a := newTestAgent(t, &fakeProvider{}, agent.Config{Secrets: []string{"mem0-secret-key", "syt_matrix_token"}})

	got := a.Redact("Token mem0-secret-key rejected; matrix syt_matrix_token ok")
	want := "Token [REDACTED] rejected; matrix [REDACTED] ok"
	if got != want {
		t.Errorf("Redact = %q, want %q", got, want)
	}
	if got := a.Redact("nothing secret"); got != "nothing secret" {
		t.Errorf("Redact changed plain text: %q", got)
	}
}

func TestHandleTurn_Unavailable(t *testing.T) {
	a := newTestAgent(t, nil, agent.Config{})

	if a.LLMAvailable() {
		t.Error("LLMAvailable = true without a provider")
	}
	_, err := a.HandleTurn(context.Background(), agent.Turn{Text: "hi", Source: agent.SourceHTTP})
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if n := a.Memory().Len("Kinga"); n != 0 {
		t.Errorf("memory has %d entries, want 0", n)
	}
}

func TestHandleTurn_EmptyMessage(t *testing.T) {
	a := newTestAgent(t, &fakeProvider{reply: "ok"}, agent.Config{})

	if _, err := a.HandleTurn(context.Background(), agent.Turn{Text: "  \n"}); !errors.Is(err, agent.ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if n := a.Memory().Len("Kinga"); n != 0 {
		t.Errorf("memory has %d entries, want 0", n)
	}
}

func TestHandleTurn_RateLimited(t *testing.T) {
	a := newTestAgent(t, &fakeProvider{reply: "ok"}, agent.Config{RateLimit: 2})

	for i := 0; i < 2; i++ {
		if _, err := a.HandleTurn(context.Background(), agent.Turn{Text: "hi"}); err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
	}
	if _, err := a.HandleTurn(context.Background(), agent.Turn{Text: "hi"}); !errors.Is(err, agent.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if n := a.Memory().Len("Kinga"); n != 4 {
		t.Errorf("memory has %d entries, want 4", n)
	}
}

func TestHandleTurn_ModeSwitch(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	a := newTestAgent(t, p, agent.Config{})

	if a.Mode() != agent.ModeChaotic {
		t.Fatalf("initial mode = %q", a.Mode())
	}

	reply, err := a.HandleTurn(context.Background(), agent.Turn{Text: "go chill for a bit"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Mode != agent.ModeNonchalant || a.Mode() != agent.ModeNonchalant {
		t.Errorf("mode = %q, want nonchalant", a.Mode())
	}
	if !strings.Contains(p.lastRequest().System, "nonchalant") {
		t.Errorf("System = %q, want nonchalant instruction", p.lastRequest().System)
	}

	if _, err := a.HandleTurn(context.Background(), agent.Turn{Text: "what's the weather"}); err != nil {
		t.Fatal(err)
	}
	if a.Mode() != agent.ModeNonchalant {
		t.Errorf("mode changed without a cue: %q", a.Mode())
	}

	if _, err := a.HandleTurn(context.Background(), agent.Turn{Text: "I need therapy"}); err != nil {
		t.Fatal(err)
	}
	if a.Mode() != agent.ModeTherapist {
		t.Errorf("mode = %q, want therapist", a.Mode())
	}
}

func TestGreeting(t *testing.T) {
	a := newTestAgent(t, &fakeProvider{reply: "nice"}, agent.Config{})

	if got, want := a.Greeting(), "Hi Kinga! I remember these about you:\n"+memory.NoMemories; got != want {
		t.Errorf("Greeting = %q, want %q", got, want)
	}

	if _, err := a.HandleTurn(context.Background(), agent.Turn{Text: "I moved to Nairobi"}); err != nil {
		t.Fatal(err)
	}
	want := "Hi Kinga! I remember these about you:\n- User: I moved to Nairobi\n- Assistant: nice"
	if got := a.Greeting(); got != want {
		t.Errorf("Greeting = %q, want %q", got, want)
	}
}
