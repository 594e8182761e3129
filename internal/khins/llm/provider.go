// Package llm defines the prompt-generator interface the persona bot uses to
// turn a prompt (persona instruction + user utterance + memory context) into
// a reply, plus adapters for hosted chat-completion APIs.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no LLM backend is configured.
var ErrUnavailable = errors.New("llm: no provider configured")

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a single inference call.
type CompletionRequest struct {
	// System is the system instruction. Empty means none.
	System string
	// Messages is the conversation, oldest first.
	Messages []Message
	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int
	// Temperature is the sampling temperature. Zero uses the provider default.
	Temperature float64
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        TokenUsage
}

// TokenUsage reports token consumption.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider is implemented by every LLM backend.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Unavailable is the Provider used when no backend is configured. Every call
// fails with ErrUnavailable.
type Unavailable struct{}

// Complete always returns ErrUnavailable.
func (Unavailable) Complete(context.Context, CompletionRequest) (*CompletionResponse, error) {
	return nil, ErrUnavailable
}

// IsAvailable reports whether p can serve requests.
func IsAvailable(p Provider) bool {
	if p == nil {
		return false
	}
	_, unavailable := p.(Unavailable)
	return !unavailable
}
