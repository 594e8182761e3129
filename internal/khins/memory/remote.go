package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Khin-96/KhinsLLM/common/retry"
)

const (
	defaultRemoteBase    = "https://api.mem0.ai"
	defaultRemoteTimeout = 15 * time.Second
)

// RemoteConfig configures the hosted memory service client.
type RemoteConfig struct {
	// APIKey is sent as "Authorization: Token <key>".
	APIKey string

	// BaseURL overrides the service endpoint. Defaults to https://api.mem0.ai.
	BaseURL string

	// Timeout is the per-request HTTP timeout. Defaults to 15 s. The caller's
	// context deadline still applies across retries.
	Timeout time.Duration

	// Retry controls retries of transport errors, 429 and 5xx responses.
	// Zero value means retry.DefaultConfig.
	Retry retry.Config
}

// RemoteClient talks to a hosted memory service. It mirrors every appended
// memory (Sink) and condenses old memories on compaction (Summarizer).
type RemoteClient struct {
	cfg    RemoteConfig
	client *http.Client
}

// NewRemoteClient returns a client for the hosted memory service. It is safe
// for concurrent use.
func NewRemoteClient(cfg RemoteConfig) *RemoteClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRemoteBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = isRetryable
	}
	return &RemoteClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type remoteMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type addRequest struct {
	Messages []remoteMessage `json:"messages"`
	UserID   string          `json:"user_id"`
}

type summarizeRequest struct {
	Text   string `json:"text"`
	UserID string `json:"user_id"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

type remoteErrorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// statusError is returned for non-2xx responses.
type statusError struct {
	Code    int
	Message string
}

func (e *statusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("memory remote: HTTP %d", e.Code)
	}
	return fmt.Sprintf("memory remote: HTTP %d: %s", e.Code, e.Message)
}

// isRetryable retries transport failures, rate limits and server errors.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Add stores text as a user memory on the remote service.
func (c *RemoteClient) Add(ctx context.Context, text, userID string) error {
	body := addRequest{
		Messages: []remoteMessage{{Role: "user", Content: text}},
		UserID:   userID,
	}
	return retry.Do(ctx, c.cfg.Retry, func() error {
		return c.post(ctx, "/v1/memories/", body, nil)
	})
}

// Summarize asks the remote service to condense text into a short note.
func (c *RemoteClient) Summarize(ctx context.Context, text, userID string) (string, error) {
	var out summarizeResponse
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		return c.post(ctx, "/v1/summarize/", summarizeRequest{Text: text, UserID: userID}, &out)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Summary), nil
}

func (c *RemoteClient) post(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("memory remote: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("memory remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("memory remote: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("memory remote: read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		var eb remoteErrorBody
		_ = json.Unmarshal(respBody, &eb)
		msg := eb.Detail
		if msg == "" {
			msg = eb.Error
		}
		return &statusError{Code: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("memory remote: decode response: %w", err)
	}
	return nil
}

// Compile-time interface satisfaction checks.
var (
	_ Sink       = (*RemoteClient)(nil)
	_ Summarizer = (*RemoteClient)(nil)
)
