// Package redact strips secret values (LLM and memory-service API keys,
// Matrix access tokens) from text and recognises secret-bearing attribute
// names before they reach a log line.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// minSecretLen skips values short enough to match unrelated text.
const minSecretLen = 4

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are ignored.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// IsSensitiveKey reports whether a key name suggests it holds a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "token", "secret", "key", "credential", "auth"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
