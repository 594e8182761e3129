// Package memory implements the persona bot's persistent conversation memory.
// Every user utterance and assistant reply is appended to a per-user log that
// is flushed to durable storage after each mutation. When a log grows past its
// high-water mark the older part is collapsed into a single summary entry, so
// the log (and the prompt context built from it) stays bounded.
package memory

import (
	"strings"
	"time"
)

// Entry is one timestamped unit of conversational memory. Entries are never
// edited in place; compaction replaces them wholesale.
type Entry struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is an ordered sequence of entries for one user (oldest first).
type Log []Entry

// State maps a user identity to that user's log. It is the unit that is
// loaded and saved by a Persister.
type State map[string]Log

// clone returns a deep copy of the state so persisters never observe
// concurrent mutation.
func (s State) clone() State {
	out := make(State, len(s))
	for user, log := range s {
		cp := make(Log, len(log))
		copy(cp, log)
		out[user] = cp
	}
	return out
}

// Equal reports whether two states hold the same users with the same ordered
// entries. Timestamps are compared with time.Time.Equal.
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for user, a := range s {
		b, ok := other[user]
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i].Text != b[i].Text || !a[i].Timestamp.Equal(b[i].Timestamp) {
				return false
			}
		}
	}
	return true
}

// summaryPrefix marks the synthetic entry produced by compaction.
const summaryPrefix = "Summary of past: "

// IsSummary reports whether the entry was produced by compaction.
func (e Entry) IsSummary() bool {
	return strings.HasPrefix(e.Text, summaryPrefix)
}
