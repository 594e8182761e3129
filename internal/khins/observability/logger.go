// Package observability configures structured logging for the bot: level and
// format selection, trace ID propagation and redaction of secret-bearing
// attributes.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Khin-96/KhinsLLM/common/redact"
	"github.com/Khin-96/KhinsLLM/common/trace"
)

// ParseLevel maps "debug", "warn", "error" to their slog levels. Anything
// else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger writing to w in the given format ("json" or
// text). Attributes whose key looks like a credential are replaced with
// [REDACTED].
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: redactAttr,
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup installs a stdout logger as the slog default and returns it.
func Setup(level, format string) *slog.Logger {
	logger := NewLogger(os.Stdout, level, format)
	slog.SetDefault(logger)
	return logger
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString && redact.IsSensitiveKey(a.Key) && a.Value.String() != "" {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

// WithTrace returns a child of logger that always includes the trace_id from
// ctx. A nil logger means slog.Default().
func WithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return logger
	}
	return logger.With("trace_id", traceID)
}

// RedactSecrets scrubs credential values (API keys, access tokens) out of
// text that may reach a log line or a client, such as a provider error.
// Empty values are skipped.
func RedactSecrets(text string, secrets ...string) string {
	if text == "" || len(secrets) == 0 {
		return text
	}
	return redact.String(text, secrets...)
}
