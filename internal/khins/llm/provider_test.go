package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Khin-96/KhinsLLM/internal/khins/llm"
)

func TestUnavailable(t *testing.T) {
	_, err := llm.Unavailable{}.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if llm.IsAvailable(llm.Unavailable{}) {
		t.Error("IsAvailable(Unavailable{}) = true")
	}
	if llm.IsAvailable(nil) {
		t.Error("IsAvailable(nil) = true")
	}
	if !llm.IsAvailable(llm.NewOpenAI(llm.OpenAIConfig{APIKey: "k"})) {
		t.Error("IsAvailable(openai) = false")
	}
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "grok-test",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "  Hello Kinga!  "},
				"finish_reason": "stop"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	p := llm.NewOpenAI(llm.OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "grok-test"})
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		System:      "You are Khin.",
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		MaxTokens:   100,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Content != "Hello Kinga!" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 3 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	if body["model"] != "grok-test" {
		t.Errorf("model = %v", body["model"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v, want system + user", body["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id": "x", "object": "chat.completion", "created": 1, "model": "m", "choices": []}`)
	}))
	defer srv.Close()

	p := llm.NewOpenAI(llm.OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}); err == nil {
		t.Error("expected an error for an empty choices list")
	}
}

func TestOpenAIProvider_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": {"message": "bad model", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := llm.NewOpenAI(llm.OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "llm openai") {
		t.Errorf("err = %v, want wrapped openai error", err)
	}
}

func TestAnthropicProvider_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if key := r.Header.Get("X-Api-Key"); key != "test-key" {
			t.Errorf("X-Api-Key = %q", key)
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 9, "output_tokens": 2}
		}`)
	}))
	defer srv.Close()

	p := llm.NewAnthropic(llm.AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "claude-test"})
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		System: "You are Khin.",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Be brief."},
			{Role: llm.RoleUser, Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Content != "Hello there" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != "end_turn" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if resp.Usage.PromptTokens != 9 || resp.Usage.CompletionTokens != 2 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	if body["max_tokens"] != float64(1024) {
		t.Errorf("max_tokens = %v, want default 1024", body["max_tokens"])
	}
	system, _ := body["system"].([]any)
	if len(system) != 2 {
		t.Errorf("system = %v, want instruction and folded system message", body["system"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Errorf("messages = %v, want only the user turn", body["messages"])
	}
}
