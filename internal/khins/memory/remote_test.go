package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Khin-96/KhinsLLM/common/retry"
)

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRemoteClient_Add(t *testing.T) {
	var got addRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/memories/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Token secret" {
			t.Errorf("Authorization = %q, want %q", auth, "Token secret")
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewRemoteClient(RemoteConfig{APIKey: "secret", BaseURL: srv.URL + "/", Retry: fastRetry()})
	if err := c.Add(context.Background(), "User: hi", "Kinga"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if got.UserID != "Kinga" {
		t.Errorf("user_id = %q, want Kinga", got.UserID)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "User: hi" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestRemoteClient_Summarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/summarize/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req summarizeRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Text != "m0 m1" || req.UserID != "U" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"summary": "  enjoys hiking \n"}`))
	}))
	defer srv.Close()

	c := NewRemoteClient(RemoteConfig{APIKey: "k", BaseURL: srv.URL, Retry: fastRetry()})
	got, err := c.Summarize(context.Background(), "m0 m1", "U")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "enjoys hiking" {
		t.Errorf("summary = %q, want %q", got, "enjoys hiking")
	}
}

func TestRemoteClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"summary": "ok"}`))
	}))
	defer srv.Close()

	c := NewRemoteClient(RemoteConfig{BaseURL: srv.URL, Retry: fastRetry()})
	got, err := c.Summarize(context.Background(), "x", "U")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "ok" || calls.Load() != 3 {
		t.Errorf("summary = %q after %d calls, want ok after 3", got, calls.Load())
	}
}

func TestRemoteClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail": "Invalid token"}`))
	}))
	defer srv.Close()

	c := NewRemoteClient(RemoteConfig{APIKey: "bad", BaseURL: srv.URL, Retry: fastRetry()})
	err := c.Add(context.Background(), "x", "U")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "Invalid token") {
		t.Errorf("error = %v, want status and detail", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRemoteClient_AsStoreSummarizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/summarize/":
			w.Write([]byte(`{"summary": "remote note"}`))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := NewRemoteClient(RemoteConfig{BaseURL: srv.URL, Retry: fastRetry()})
	s := NewStore(context.Background(), StoreConfig{}, nil, c, c, discardLogger())
	defer s.Close()

	appendN(t, s, "U", 0, 50)

	if got := s.Entries("U")[0].Text; got != "Summary of past: remote note" {
		t.Errorf("entry[0] = %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&statusError{Code: 500}, true},
		{&statusError{Code: 503}, true},
		{&statusError{Code: 429}, true},
		{&statusError{Code: 400}, false},
		{&statusError{Code: 404}, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
